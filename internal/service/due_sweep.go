package service

import (
	"context"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// DueSweeper moves every instrument whose date has arrived to DUE. It is run
// by an external daily trigger with the business date.
type DueSweeper struct {
	base
	cheques  *ChequeService
	incoming *IncomingChequeService
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	AsOf            string `json:"asOf"`
	LeavesMarked    int    `json:"leavesMarked"`
	IncomingMarked  int    `json:"incomingMarked"`
	Skipped         int    `json:"skipped"`
	CandidatesFound int    `json:"candidatesFound"`
}

// SweepDue marks each candidate in its own transaction. Candidates that moved
// on between listing and marking, or that wait on an approval decision, are
// skipped. A storage failure stops the
// sweep and the partial result is returned with the error.
func (s *DueSweeper) SweepDue(ctx context.Context, actor string, asOf string) (*SweepResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateDate("asOf", asOf); err != nil {
		return nil, err
	}

	var leafIDs, incomingIDs []int64
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		if leafIDs, err = q.ListDueLeafIDs(ctx, asOf); err != nil {
			return err
		}
		incomingIDs, err = q.ListDueIncomingIDs(ctx, asOf)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &SweepResult{AsOf: asOf, CandidatesFound: len(leafIDs) + len(incomingIDs)}
	defer func() {
		s.metrics.SweepMarked(string(repository.EntityChequeLeaf), result.LeavesMarked)
		s.metrics.SweepMarked(string(repository.EntityIncomingCheque), result.IncomingMarked)
	}()

	for _, id := range leafIDs {
		_, err := s.cheques.MarkDue(ctx, actor, id, asOf)
		if skip, fatal := classifySweepError(err); fatal {
			return result, err
		} else if skip {
			result.Skipped++
			continue
		}
		result.LeavesMarked++
	}
	for _, id := range incomingIDs {
		_, err := s.incoming.MarkDue(ctx, actor, id, asOf)
		if skip, fatal := classifySweepError(err); fatal {
			return result, err
		} else if skip {
			result.Skipped++
			continue
		}
		result.IncomingMarked++
	}

	s.log.Info().
		Str("as_of", asOf).
		Int("leaves_marked", result.LeavesMarked).
		Int("incoming_marked", result.IncomingMarked).
		Int("skipped", result.Skipped).
		Str("actor", actor).
		Msg("Due sweep completed")

	return result, nil
}

func classifySweepError(err error) (skip, fatal bool) {
	if err == nil {
		return false, false
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeIllegalTransition, errors.ErrCodeNotFound, errors.ErrCodeConflict, errors.ErrCodeDuplicatePending:
		return true, false
	default:
		return false, true
	}
}
