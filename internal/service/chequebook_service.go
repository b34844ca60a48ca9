package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// MaxLeavesPerBook bounds a single allocation.
const MaxLeavesPerBook = 10000

// ChequeBookService allocates cheque books and their leaves.
type ChequeBookService struct {
	base
}

// CreateChequeBookRequest represents a create cheque book request
type CreateChequeBookRequest struct {
	AccountID        string  `json:"accountId"`
	SeriesIdentifier *string `json:"seriesIdentifier,omitempty"`
	StartNumber      int64   `json:"startNumber"`
	EndNumber        int64   `json:"endNumber"`
	IssuedDate       string  `json:"issuedDate"`
}

func (r *CreateChequeBookRequest) validate() error {
	r.AccountID = strings.TrimSpace(r.AccountID)
	if r.AccountID == "" {
		return errors.InvalidInput("accountId", "is required")
	}
	if err := validateDate("issuedDate", r.IssuedDate); err != nil {
		return err
	}
	switch {
	case r.EndNumber < r.StartNumber:
		return errors.Newf(errors.ErrCodeInvalidRange,
			"end number %d is before start number %d", r.EndNumber, r.StartNumber)
	case r.StartNumber < 1:
		return errors.New(errors.ErrCodeInvalidRange, "start number must be at least 1")
	case r.EndNumber-r.StartNumber+1 > MaxLeavesPerBook:
		return errors.Newf(errors.ErrCodeInvalidRange, "a cheque book holds at most %d leaves", MaxLeavesPerBook)
	}
	r.SeriesIdentifier = optionalText(r.SeriesIdentifier)
	return nil
}

// CreateChequeBook creates the book and all of its UNUSED leaves atomically.
func (s *ChequeBookService) CreateChequeBook(ctx context.Context, actor string, req *CreateChequeBookRequest) (*repository.ChequeBook, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	book := &repository.ChequeBook{
		AccountID:        req.AccountID,
		SeriesIdentifier: req.SeriesIdentifier,
		StartNumber:      req.StartNumber,
		EndNumber:        req.EndNumber,
		IssuedDate:       req.IssuedDate,
		CreatedBy:        actor,
		CreatedAt:        s.now(),
	}

	err := s.store.InTransaction(ctx, func(q repository.Queries) error {
		if err := q.LockAccount(ctx, book.AccountID); err != nil {
			return err
		}
		overlap, err := q.HasOverlappingBook(ctx, book.AccountID, book.StartNumber, book.EndNumber)
		if err != nil {
			return err
		}
		if overlap {
			return errors.Newf(errors.ErrCodeOverlappingRange,
				"range %d-%d overlaps an active cheque book of account %s",
				book.StartNumber, book.EndNumber, book.AccountID)
		}

		if err := q.InsertBook(ctx, book); err != nil {
			return err
		}
		n, err := q.InsertLeaves(ctx, book.ID, book.StartNumber, book.EndNumber, book.CreatedAt)
		if err != nil {
			return err
		}
		if n != book.TotalLeaves() {
			return errors.Newf(errors.ErrCodeInternal, "created %d leaves, expected %d", n, book.TotalLeaves())
		}

		return s.audit.Record(ctx, q, actor, auditCreate, repository.EntityChequeBook, book.ID, nil, book)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("book_id", book.ID).
		Str("account_id", book.AccountID).
		Int64("start_number", book.StartNumber).
		Int64("end_number", book.EndNumber).
		Str("actor", actor).
		Msg("Cheque book created")

	return book, nil
}

// GetChequeBook returns a book with its used-leaf count.
func (s *ChequeBookService) GetChequeBook(ctx context.Context, id int64) (*repository.ChequeBook, error) {
	var book *repository.ChequeBook
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		book, err = q.GetBook(ctx, id)
		return err
	})
	return book, err
}

// ListChequeBooks lists the books of one account, or all books when
// accountID is empty.
func (s *ChequeBookService) ListChequeBooks(ctx context.Context, accountID string) ([]*repository.ChequeBook, error) {
	var books []*repository.ChequeBook
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		books, err = q.ListBooks(ctx, strings.TrimSpace(accountID))
		return err
	})
	return books, err
}

// ListLeaves returns a book's leaves ordered by cheque number.
func (s *ChequeBookService) ListLeaves(ctx context.Context, bookID int64) ([]*repository.ChequeLeaf, error) {
	var leaves []*repository.ChequeLeaf
	err := s.store.Read(ctx, func(q repository.Queries) error {
		if _, err := q.GetBook(ctx, bookID); err != nil {
			return err
		}
		var err error
		leaves, err = q.ListLeavesByBook(ctx, bookID)
		return err
	})
	return leaves, err
}

// DeactivateChequeBook soft-deletes a book. Its range is freed for new books
// and its remaining UNUSED leaves can no longer be issued.
func (s *ChequeBookService) DeactivateChequeBook(ctx context.Context, actor string, id int64) (*repository.ChequeBook, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var book *repository.ChequeBook
	err := s.store.InTransaction(ctx, func(q repository.Queries) error {
		var err error
		book, err = q.GetBookForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := q.LockAccount(ctx, book.AccountID); err != nil {
			return err
		}
		if !book.Active {
			return errors.Newf(errors.ErrCodeIllegalTransition, "cheque book %d is already inactive", id)
		}
		if err := q.DeactivateBook(ctx, id); err != nil {
			return err
		}
		book.Active = false
		return s.audit.Record(ctx, q, actor, auditDeactivate, repository.EntityChequeBook, id,
			map[string]any{"active": true}, map[string]any{"active": false})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("book_id", id).Str("actor", actor).Msg("Cheque book deactivated")
	return book, nil
}
