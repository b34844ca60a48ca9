// Package worker holds background loops that run beside the API servers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pesio-ai/be-tr-cheques/internal/metrics"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/logger"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// Publisher delivers one audit entry downstream.
type Publisher interface {
	Publish(ctx context.Context, e *repository.AuditLogEntry) error
}

// CursorStore remembers the id of the last entry delivered.
type CursorStore interface {
	LoadCursor(ctx context.Context) (int64, error)
	SaveCursor(ctx context.Context, id int64) error
}

// RelayConfig tunes the polling loop.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// SettleLag holds back entries younger than this. Audit ids are assigned
	// before commit, so a concurrent transaction may still commit a lower id;
	// only entries older than the lag are considered settled.
	SettleLag time.Duration
}

// AuditRelay tails the audit log and forwards every entry, in id order, to
// the notification stream. Delivery is at least once: the cursor only moves
// after a successful publish.
type AuditRelay struct {
	store   repository.Store
	pub     Publisher
	cursor  CursorStore
	metrics *metrics.Metrics
	log     *logger.Logger
	cfg     RelayConfig
	now     func() time.Time
}

// NewAuditRelay creates a relay. A nil cursor keeps the position in memory
// only, which replays the whole log after a restart.
func NewAuditRelay(
	store repository.Store,
	pub Publisher,
	cursor CursorStore,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg RelayConfig,
) *AuditRelay {
	if cursor == nil {
		cursor = &MemoryCursor{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &AuditRelay{
		store:   store,
		pub:     pub,
		cursor:  cursor,
		metrics: m,
		log:     log.With("component", "audit_relay"),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is cancelled. Errors are logged and retried on the next
// tick.
func (r *AuditRelay) Run(ctx context.Context) error {
	r.log.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("Audit relay started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn().Err(err).Int("relayed", n).Msg("Audit relay cycle failed")
				}
				break
			}
			// A full batch means there is probably more waiting.
			if n < r.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			r.log.Info().Msg("Audit relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce forwards at most one batch and returns how many entries were
// delivered.
func (r *AuditRelay) RelayOnce(ctx context.Context) (int, error) {
	after, err := r.cursor.LoadCursor(ctx)
	if err != nil {
		return 0, err
	}

	var entries []*repository.AuditLogEntry
	err = r.store.Read(ctx, func(q repository.Queries) error {
		var err error
		entries, err = q.ListAuditAfter(ctx, after, r.now().Add(-r.cfg.SettleLag), r.cfg.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	for i, e := range entries {
		if err := r.pub.Publish(ctx, e); err != nil {
			r.metrics.Relayed(false)
			return i, err
		}
		r.metrics.Relayed(true)
		if err := r.cursor.SaveCursor(ctx, e.ID); err != nil {
			return i + 1, err
		}
	}

	if len(entries) > 0 {
		r.log.Debug().
			Int("relayed", len(entries)).
			Int64("cursor", entries[len(entries)-1].ID).
			Msg("Audit entries relayed")
	}
	return len(entries), nil
}

// MemoryCursor is a process-local CursorStore.
type MemoryCursor struct {
	mu sync.Mutex
	id int64
}

func (c *MemoryCursor) LoadCursor(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, nil
}

func (c *MemoryCursor) SaveCursor(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	return nil
}
