package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
)

const bookColumns = `
	b.id, b.account_id, b.series_identifier, b.start_number, b.end_number,
	b.issued_date::text, b.active, b.created_by, b.created_at,
	(SELECT COUNT(*) FROM cheque_leaves l WHERE l.book_id = b.id AND l.status <> 'UNUSED')
`

func (q *queries) LockAccount(ctx context.Context, accountID string) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "cheque_books:"+accountID)
	return mapPgError(err, "failed to lock account")
}

func (q *queries) HasOverlappingBook(ctx context.Context, accountID string, start, end int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM cheque_books
			WHERE account_id = $1
			  AND active
			  AND start_number <= $3
			  AND end_number >= $2
		)
	`
	var exists bool
	if err := q.db.QueryRow(ctx, query, accountID, start, end).Scan(&exists); err != nil {
		return false, mapPgError(err, "failed to check book overlap")
	}
	return exists, nil
}

func (q *queries) InsertBook(ctx context.Context, book *ChequeBook) error {
	query := `
		INSERT INTO cheque_books
		    (account_id, series_identifier, start_number, end_number,
		     issued_date, active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5::date, TRUE, $6, $7)
		RETURNING id
	`
	err := q.db.QueryRow(ctx, query,
		book.AccountID,
		book.SeriesIdentifier,
		book.StartNumber,
		book.EndNumber,
		book.IssuedDate,
		book.CreatedBy,
		book.CreatedAt,
	).Scan(&book.ID)
	if err != nil {
		return mapPgError(err, "failed to create cheque book")
	}
	book.Active = true
	return nil
}

func (q *queries) InsertLeaves(ctx context.Context, bookID, start, end int64, at time.Time) (int64, error) {
	query := `
		INSERT INTO cheque_leaves (book_id, cheque_number, status, version, updated_at)
		SELECT $1, n, 'UNUSED'::leaf_status, 1, $4
		FROM generate_series($2::bigint, $3::bigint) AS n
	`
	tag, err := q.db.Exec(ctx, query, bookID, start, end, at)
	if err != nil {
		return 0, mapPgError(err, "failed to create cheque leaves")
	}
	return tag.RowsAffected(), nil
}

func (q *queries) GetBook(ctx context.Context, id int64) (*ChequeBook, error) {
	return q.getBook(ctx, id, "")
}

func (q *queries) GetBookForUpdate(ctx context.Context, id int64) (*ChequeBook, error) {
	return q.getBook(ctx, id, "FOR UPDATE OF b")
}

func (q *queries) getBook(ctx context.Context, id int64, lock string) (*ChequeBook, error) {
	query := `SELECT ` + bookColumns + ` FROM cheque_books b WHERE b.id = $1 ` + lock

	book, err := scanBook(q.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, errors.NotFound("cheque_book", id)
	}
	if err != nil {
		return nil, mapPgError(err, "failed to get cheque book")
	}
	return book, nil
}

func (q *queries) ListBooks(ctx context.Context, accountID string) ([]*ChequeBook, error) {
	query := `
		SELECT ` + bookColumns + `
		FROM cheque_books b
		WHERE ($1 = '' OR b.account_id = $1)
		ORDER BY b.account_id, b.start_number, b.id
	`
	rows, err := q.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, mapPgError(err, "failed to list cheque books")
	}
	defer rows.Close()

	var books []*ChequeBook
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, mapPgError(err, "failed to scan cheque book")
		}
		books = append(books, book)
	}
	return books, mapPgError(rows.Err(), "failed to list cheque books")
}

func (q *queries) DeactivateBook(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `UPDATE cheque_books SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err, "failed to deactivate cheque book")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("cheque_book", id)
	}
	return nil
}

func scanBook(row scanner) (*ChequeBook, error) {
	book := &ChequeBook{}
	err := row.Scan(
		&book.ID,
		&book.AccountID,
		&book.SeriesIdentifier,
		&book.StartNumber,
		&book.EndNumber,
		&book.IssuedDate,
		&book.Active,
		&book.CreatedBy,
		&book.CreatedAt,
		&book.UsedLeaves,
	)
	if err != nil {
		return nil, err
	}
	return book, nil
}
