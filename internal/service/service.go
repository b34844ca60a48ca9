package service

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-tr-cheques/internal/metrics"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/logger"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

const dateLayout = "2006-01-02"

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// Dependencies are shared by every service.
type Dependencies struct {
	Store   repository.Store
	Metrics *metrics.Metrics
	Log     *logger.Logger
	Clock   Clock
	// Cache is optional.
	Cache SummaryCache
}

// Services is the wired core.
type Services struct {
	Audit     *AuditRecorder
	Books     *ChequeBookService
	Cheques   *ChequeService
	Incoming  *IncomingChequeService
	Approvals *ApprovalService
	Exposure  *ExposureService
	Sweeper   *DueSweeper
}

// New wires every service over one store.
func New(deps Dependencies) *Services {
	if deps.Clock == nil {
		deps.Clock = systemClock
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}

	audit := NewAuditRecorder(deps.Store, deps.Clock)
	b := base{store: deps.Store, audit: audit, metrics: deps.Metrics, log: deps.Log, now: deps.Clock}

	cheques := &ChequeService{base: b}
	incoming := &IncomingChequeService{base: b}

	return &Services{
		Audit:     audit,
		Books:     &ChequeBookService{base: b},
		Cheques:   cheques,
		Incoming:  incoming,
		Approvals: NewApprovalService(b, NewLeafTarget(cheques), NewIncomingTarget(incoming)),
		Exposure:  &ExposureService{base: b, cache: deps.Cache},
		Sweeper:   &DueSweeper{base: b, cheques: cheques, incoming: incoming},
	}
}

// base carries what every service needs.
type base struct {
	store   repository.Store
	audit   *AuditRecorder
	metrics *metrics.Metrics
	log     *logger.Logger
	now     Clock
}

// transition is a committed status change, reported to metrics after commit.
type transition struct {
	entity   repository.EntityType
	from, to string
}

func (b *base) observe(ts ...transition) {
	for _, t := range ts {
		b.metrics.Transition(string(t.entity), t.from, t.to)
	}
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return errors.New(errors.ErrCodeUnauthorized, "actor identity is required")
	}
	return nil
}

func validateDate(field, value string) error {
	if _, err := time.Parse(dateLayout, value); err != nil {
		return errors.InvalidInput(field, "invalid date format, expected YYYY-MM-DD")
	}
	return nil
}

var maxAmount = decimal.New(1, 16)

func validateAmount(field string, amount decimal.Decimal) error {
	switch {
	case !amount.IsPositive():
		return errors.InvalidInput(field, "must be positive")
	case !amount.Equal(amount.Round(2)):
		return errors.InvalidInput(field, "at most two decimal places")
	case amount.GreaterThanOrEqual(maxAmount):
		return errors.InvalidInput(field, "too large")
	}
	return nil
}

// requireText trims s and fails when nothing is left.
func requireText(field string, s *string) (*string, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, errors.InvalidInput(field, "is required")
	}
	v := strings.TrimSpace(*s)
	return &v, nil
}

// optionalText trims s and maps blank to nil.
func optionalText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func ptr[T any](v T) *T { return &v }
