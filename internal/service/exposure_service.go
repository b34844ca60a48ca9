package service

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// SummaryCache holds a recently computed summary. GetSummary returns nil on
// a miss.
type SummaryCache interface {
	GetSummary(ctx context.Context) (*ExposureSummary, error)
	SetSummary(ctx context.Context, summary *ExposureSummary) error
}

// ExposureSummary is the dashboard view of open cheque positions.
type ExposureSummary struct {
	Rows        []repository.ExposureRow `json:"rows"`
	NetIncoming decimal.Decimal          `json:"netIncoming"`
	NetOutgoing decimal.Decimal          `json:"netOutgoing"`
	GeneratedAt time.Time                `json:"generatedAt"`
}

// ExposureService reports outstanding incoming and outgoing amounts.
// Instruments with a pending approval request are never counted.
type ExposureService struct {
	base
	cache SummaryCache
}

// Summary groups instruments by type and status. All rows come from one
// read-only snapshot, so counts and nets always agree with each other.
func (s *ExposureService) Summary(ctx context.Context) (*ExposureSummary, error) {
	if s.cache != nil {
		cached, err := s.cache.GetSummary(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("Exposure cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	var rows []repository.ExposureRow
	err := s.store.ReadSnapshot(ctx, func(q repository.Queries) error {
		var err error
		rows, err = q.ExposureSummary(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	summary := summarize(rows, s.now())
	if s.cache != nil {
		if err := s.cache.SetSummary(ctx, summary); err != nil {
			s.log.Warn().Err(err).Msg("Exposure cache write failed")
		}
	}
	return summary, nil
}

func summarize(rows []repository.ExposureRow, at time.Time) *ExposureSummary {
	summary := &ExposureSummary{
		Rows:        rows,
		NetIncoming: decimal.Zero,
		NetOutgoing: decimal.Zero,
		GeneratedAt: at,
	}
	if summary.Rows == nil {
		summary.Rows = []repository.ExposureRow{}
	}
	for _, r := range rows {
		switch r.Type {
		case repository.InstrumentIncoming:
			if slices.Contains(LiveIncomingStatuses, repository.IncomingStatus(r.Status)) {
				summary.NetIncoming = summary.NetIncoming.Add(r.TotalAmount)
			}
		case repository.InstrumentOutgoing:
			if slices.Contains(LiveOutgoingStatuses, repository.LeafStatus(r.Status)) {
				summary.NetOutgoing = summary.NetOutgoing.Add(r.TotalAmount)
			}
		}
	}
	return summary
}

// OutgoingDetails lists leaves in the given statuses, or in the live statuses
// when none are given.
func (s *ExposureService) OutgoingDetails(ctx context.Context, statuses []repository.LeafStatus) ([]*repository.ChequeLeaf, error) {
	if len(statuses) == 0 {
		statuses = LiveOutgoingStatuses
	}
	for _, st := range statuses {
		if st == repository.LeafUnused || !slices.Contains(repository.AllLeafStatuses, st) {
			return nil, errors.InvalidInput("status", "not an outgoing instrument status: "+string(st))
		}
	}

	var out []*repository.ChequeLeaf
	err := s.store.ReadSnapshot(ctx, func(q repository.Queries) error {
		var err error
		out, err = q.OutgoingDetails(ctx, statuses)
		return err
	})
	return out, err
}

// IncomingDetails lists incoming cheques in the given statuses, or in the live
// statuses when none are given.
func (s *ExposureService) IncomingDetails(ctx context.Context, statuses []repository.IncomingStatus) ([]*repository.IncomingCheque, error) {
	if len(statuses) == 0 {
		statuses = LiveIncomingStatuses
	}
	for _, st := range statuses {
		if !slices.Contains(repository.AllIncomingStatuses, st) {
			return nil, errors.InvalidInput("status", "not an incoming cheque status: "+string(st))
		}
	}

	var out []*repository.IncomingCheque
	err := s.store.ReadSnapshot(ctx, func(q repository.Queries) error {
		var err error
		out, err = q.IncomingDetails(ctx, statuses)
		return err
	})
	return out, err
}
