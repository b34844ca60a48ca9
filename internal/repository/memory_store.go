package repository

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
)

// MemoryStore keeps all state in process. A transaction works on a private
// copy of the state and publishes it on success, so readers never observe a
// partial unit of work. Writers are serialised by one mutex.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) InTransaction(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memQueries{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, fn func(q Queries) error) error {
	return s.ReadSnapshot(ctx, fn)
}

func (s *MemoryStore) ReadSnapshot(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	// Published states are never mutated, so the snapshot stays consistent
	// after the lock is released.
	return fn(&memQueries{st: st, readOnly: true})
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type pendingKey struct {
	entityType EntityType
	entityID   int64
}

type memState struct {
	books      map[int64]ChequeBook
	leaves     map[int64]ChequeLeaf
	bookLeaves map[int64][]int64
	incoming   map[int64]IncomingCheque
	approvals  map[int64]ApprovalRequest
	pending    map[pendingKey]int64
	audit      []AuditLogEntry

	nextBook, nextLeaf, nextIncoming, nextApproval, nextAudit int64
}

func newMemState() *memState {
	return &memState{
		books:      map[int64]ChequeBook{},
		leaves:     map[int64]ChequeLeaf{},
		bookLeaves: map[int64][]int64{},
		incoming:   map[int64]IncomingCheque{},
		approvals:  map[int64]ApprovalRequest{},
		pending:    map[pendingKey]int64{},
	}
}

func (st *memState) clone() *memState {
	c := *st
	c.books = maps.Clone(st.books)
	c.leaves = maps.Clone(st.leaves)
	c.bookLeaves = maps.Clone(st.bookLeaves)
	c.incoming = maps.Clone(st.incoming)
	c.approvals = maps.Clone(st.approvals)
	c.pending = maps.Clone(st.pending)
	// Full slice expression: appends in the copy never touch the original.
	c.audit = st.audit[:len(st.audit):len(st.audit)]
	return &c
}

type memQueries struct {
	st       *memState
	readOnly bool
}

func (q *memQueries) writable() error {
	if q.readOnly {
		return errors.New(errors.ErrCodeInternal, "write attempted in a read-only unit of work")
	}
	return nil
}

func (q *memQueries) workflowOf(entityType EntityType, id int64) WorkflowStatus {
	if _, ok := q.st.pending[pendingKey{entityType, id}]; ok {
		return WorkflowPendingApproval
	}
	return WorkflowNone
}

// ── books ─────────────────────────────────────────────────────────────────────

func (q *memQueries) LockAccount(ctx context.Context, accountID string) error {
	return q.writable()
}

func (q *memQueries) HasOverlappingBook(ctx context.Context, accountID string, start, end int64) (bool, error) {
	for _, b := range q.st.books {
		if b.AccountID == accountID && b.Active && b.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) InsertBook(ctx context.Context, book *ChequeBook) error {
	if err := q.writable(); err != nil {
		return err
	}
	ok, _ := q.HasOverlappingBook(ctx, book.AccountID, book.StartNumber, book.EndNumber)
	if ok {
		return errors.New(errors.ErrCodeOverlappingRange, "range overlaps an active cheque book")
	}
	q.st.nextBook++
	book.ID = q.st.nextBook
	book.Active = true
	q.st.books[book.ID] = *book
	return nil
}

func (q *memQueries) InsertLeaves(ctx context.Context, bookID, start, end int64, at time.Time) (int64, error) {
	if err := q.writable(); err != nil {
		return 0, err
	}
	book, ok := q.st.books[bookID]
	if !ok {
		return 0, errors.NotFound("cheque_book", bookID)
	}
	ids := make([]int64, 0, end-start+1)
	for n := start; n <= end; n++ {
		q.st.nextLeaf++
		id := q.st.nextLeaf
		q.st.leaves[id] = ChequeLeaf{
			ID:           id,
			BookID:       bookID,
			AccountID:    book.AccountID,
			ChequeNumber: n,
			Status:       LeafUnused,
			Version:      1,
			UpdatedAt:    at,
		}
		ids = append(ids, id)
	}
	q.st.bookLeaves[bookID] = ids
	return int64(len(ids)), nil
}

func (q *memQueries) GetBook(ctx context.Context, id int64) (*ChequeBook, error) {
	b, ok := q.st.books[id]
	if !ok {
		return nil, errors.NotFound("cheque_book", id)
	}
	return q.withUsage(b), nil
}

func (q *memQueries) GetBookForUpdate(ctx context.Context, id int64) (*ChequeBook, error) {
	return q.GetBook(ctx, id)
}

func (q *memQueries) withUsage(b ChequeBook) *ChequeBook {
	var used int64
	for _, id := range q.st.bookLeaves[b.ID] {
		if q.st.leaves[id].Status != LeafUnused {
			used++
		}
	}
	b.UsedLeaves = used
	return &b
}

func (q *memQueries) ListBooks(ctx context.Context, accountID string) ([]*ChequeBook, error) {
	var out []*ChequeBook
	for _, b := range q.st.books {
		if accountID == "" || b.AccountID == accountID {
			out = append(out, q.withUsage(b))
		}
	}
	slices.SortFunc(out, func(a, b *ChequeBook) int {
		return cmp.Or(
			cmp.Compare(a.AccountID, b.AccountID),
			cmp.Compare(a.StartNumber, b.StartNumber),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out, nil
}

func (q *memQueries) DeactivateBook(ctx context.Context, id int64) error {
	if err := q.writable(); err != nil {
		return err
	}
	b, ok := q.st.books[id]
	if !ok {
		return errors.NotFound("cheque_book", id)
	}
	b.Active = false
	q.st.books[id] = b
	return nil
}

// ── leaves ────────────────────────────────────────────────────────────────────

func (q *memQueries) leafView(l ChequeLeaf) *ChequeLeaf {
	l.WorkflowStatus = q.workflowOf(EntityChequeLeaf, l.ID)
	return &l
}

func (q *memQueries) GetLeaf(ctx context.Context, id int64) (*ChequeLeaf, error) {
	l, ok := q.st.leaves[id]
	if !ok {
		return nil, errors.NotFound("cheque_leaf", id)
	}
	return q.leafView(l), nil
}

func (q *memQueries) GetLeafForUpdate(ctx context.Context, id int64) (*ChequeLeaf, error) {
	return q.GetLeaf(ctx, id)
}

func (q *memQueries) GetLeaves(ctx context.Context, ids []int64) ([]*ChequeLeaf, error) {
	var out []*ChequeLeaf
	for _, id := range ids {
		if l, ok := q.st.leaves[id]; ok {
			out = append(out, q.leafView(l))
		}
	}
	slices.SortFunc(out, func(a, b *ChequeLeaf) int { return cmp.Compare(a.ID, b.ID) })
	return slices.CompactFunc(out, func(a, b *ChequeLeaf) bool { return a.ID == b.ID }), nil
}

func (q *memQueries) ListLeavesByBook(ctx context.Context, bookID int64) ([]*ChequeLeaf, error) {
	ids := q.st.bookLeaves[bookID]
	out := make([]*ChequeLeaf, 0, len(ids))
	for _, id := range ids {
		out = append(out, q.leafView(q.st.leaves[id]))
	}
	return out, nil
}

func (q *memQueries) NextUnusedLeafForUpdate(ctx context.Context, bookID int64) (*ChequeLeaf, error) {
	return q.NextUnusedLeaf(ctx, bookID)
}

func (q *memQueries) NextUnusedLeaf(ctx context.Context, bookID int64) (*ChequeLeaf, error) {
	for _, id := range q.st.bookLeaves[bookID] {
		l := q.st.leaves[id]
		if l.Status == LeafUnused && q.workflowOf(EntityChequeLeaf, id) == WorkflowNone {
			return q.leafView(l), nil
		}
	}
	return nil, errors.Newf(errors.ErrCodeConflict, "cheque book %d has no unused leaves", bookID)
}

func (q *memQueries) UpdateLeaf(ctx context.Context, leaf *ChequeLeaf) error {
	if err := q.writable(); err != nil {
		return err
	}
	cur, ok := q.st.leaves[leaf.ID]
	if !ok {
		return errors.NotFound("cheque_leaf", leaf.ID)
	}
	if cur.Version != leaf.Version {
		return errors.Newf(errors.ErrCodeConflict, "cheque leaf %d was modified concurrently", leaf.ID)
	}
	next := *leaf
	next.BookID, next.AccountID, next.ChequeNumber = cur.BookID, cur.AccountID, cur.ChequeNumber
	next.WorkflowStatus = ""
	next.Version = cur.Version + 1
	q.st.leaves[leaf.ID] = next
	leaf.Version = next.Version
	return nil
}

func (q *memQueries) ListDueLeafIDs(ctx context.Context, asOf string) ([]int64, error) {
	var ids []int64
	for id, l := range q.st.leaves {
		if (l.Status == LeafIssued || l.Status == LeafPrinted) && l.ChequeDate != nil && *l.ChequeDate <= asOf {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ── incoming ──────────────────────────────────────────────────────────────────

func (q *memQueries) incomingView(c IncomingCheque) *IncomingCheque {
	c.WorkflowStatus = q.workflowOf(EntityIncomingCheque, c.ID)
	return &c
}

func (q *memQueries) InsertIncoming(ctx context.Context, c *IncomingCheque) error {
	if err := q.writable(); err != nil {
		return err
	}
	for _, existing := range q.st.incoming {
		if existing.ChequeNumber == c.ChequeNumber && existing.BankName == c.BankName {
			return errors.Newf(errors.ErrCodeConflict,
				"cheque %s from %s has already been received", c.ChequeNumber, c.BankName)
		}
	}
	q.st.nextIncoming++
	c.ID = q.st.nextIncoming
	c.Version = 1
	c.UpdatedAt = c.CreatedAt
	c.WorkflowStatus = WorkflowNone
	q.st.incoming[c.ID] = *c
	return nil
}

func (q *memQueries) GetIncoming(ctx context.Context, id int64) (*IncomingCheque, error) {
	c, ok := q.st.incoming[id]
	if !ok {
		return nil, errors.NotFound("incoming_cheque", id)
	}
	return q.incomingView(c), nil
}

func (q *memQueries) GetIncomingForUpdate(ctx context.Context, id int64) (*IncomingCheque, error) {
	return q.GetIncoming(ctx, id)
}

func (q *memQueries) GetIncomingMany(ctx context.Context, ids []int64) ([]*IncomingCheque, error) {
	var out []*IncomingCheque
	for _, id := range ids {
		if c, ok := q.st.incoming[id]; ok {
			out = append(out, q.incomingView(c))
		}
	}
	slices.SortFunc(out, func(a, b *IncomingCheque) int { return cmp.Compare(a.ID, b.ID) })
	return slices.CompactFunc(out, func(a, b *IncomingCheque) bool { return a.ID == b.ID }), nil
}

func (q *memQueries) ListIncoming(ctx context.Context, filter IncomingFilter) ([]*IncomingCheque, error) {
	var out []*IncomingCheque
	for _, c := range q.st.incoming {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && c.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, q.incomingView(c))
	}
	sortIncoming(out)
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) UpdateIncoming(ctx context.Context, c *IncomingCheque) error {
	if err := q.writable(); err != nil {
		return err
	}
	cur, ok := q.st.incoming[c.ID]
	if !ok {
		return errors.NotFound("incoming_cheque", c.ID)
	}
	if cur.Version != c.Version {
		return errors.Newf(errors.ErrCodeConflict, "incoming cheque %d was modified concurrently", c.ID)
	}
	cur.Status = c.Status
	cur.Remarks = c.Remarks
	cur.UpdatedAt = c.UpdatedAt
	cur.Version++
	q.st.incoming[c.ID] = cur
	c.Version = cur.Version
	return nil
}

func (q *memQueries) ListDueIncomingIDs(ctx context.Context, asOf string) ([]int64, error) {
	var ids []int64
	for id, c := range q.st.incoming {
		if c.Status == IncomingPending && c.ChequeDate <= asOf {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func sortIncoming(out []*IncomingCheque) {
	slices.SortFunc(out, func(a, b *IncomingCheque) int {
		return cmp.Or(cmp.Compare(a.ChequeDate, b.ChequeDate), cmp.Compare(a.ID, b.ID))
	})
}

// ── approvals ─────────────────────────────────────────────────────────────────

func (q *memQueries) InsertApproval(ctx context.Context, req *ApprovalRequest) error {
	if err := q.writable(); err != nil {
		return err
	}
	key := pendingKey{req.EntityType, req.EntityID}
	if req.EntityID != 0 {
		if _, exists := q.st.pending[key]; exists {
			return errors.Newf(errors.ErrCodeDuplicatePending,
				"%s %d already has a pending approval request", req.EntityType, req.EntityID)
		}
	}
	q.st.nextApproval++
	req.ID = q.st.nextApproval
	req.Status = ApprovalPending
	q.st.approvals[req.ID] = *req
	if req.EntityID != 0 {
		q.st.pending[key] = req.ID
	}
	return nil
}

func (q *memQueries) GetApproval(ctx context.Context, id int64) (*ApprovalRequest, error) {
	r, ok := q.st.approvals[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return &r, nil
}

func (q *memQueries) GetApprovalForUpdate(ctx context.Context, id int64) (*ApprovalRequest, error) {
	return q.GetApproval(ctx, id)
}

func (q *memQueries) DecideApproval(ctx context.Context, req *ApprovalRequest) error {
	if err := q.writable(); err != nil {
		return err
	}
	cur, ok := q.st.approvals[req.ID]
	if !ok {
		return errors.NotFound("approval_request", req.ID)
	}
	if cur.Status != ApprovalPending {
		return errors.Newf(errors.ErrCodeAlreadyDecided, "approval request %d is no longer pending", req.ID)
	}
	cur.Status = req.Status
	cur.DecidedBy = req.DecidedBy
	cur.DecidedAt = req.DecidedAt
	cur.DecisionNote = req.DecisionNote
	q.st.approvals[req.ID] = cur
	delete(q.st.pending, pendingKey{cur.EntityType, cur.EntityID})
	return nil
}

func (q *memQueries) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*ApprovalRequest, error) {
	var out []*ApprovalRequest
	for _, r := range q.st.approvals {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && r.EntityType != filter.EntityType {
			continue
		}
		if filter.RequestedBy != "" && r.RequestedBy != filter.RequestedBy {
			continue
		}
		out = append(out, &r)
	}
	slices.SortFunc(out, func(a, b *ApprovalRequest) int {
		return cmp.Or(a.RequestedAt.Compare(b.RequestedAt), cmp.Compare(a.ID, b.ID))
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) HasPendingApproval(ctx context.Context, entityType EntityType, entityID int64) (bool, error) {
	_, ok := q.st.pending[pendingKey{entityType, entityID}]
	return ok, nil
}

// ── audit ─────────────────────────────────────────────────────────────────────

func (q *memQueries) InsertAudit(ctx context.Context, entry *AuditLogEntry) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.st.nextAudit++
	entry.ID = q.st.nextAudit
	q.st.audit = append(q.st.audit, *entry)
	return nil
}

func (q *memQueries) QueryAudit(ctx context.Context, filter AuditFilter) ([]*AuditLogEntry, error) {
	var out []*AuditLogEntry
	for i := range q.st.audit {
		e := q.st.audit[i]
		if !auditMatches(e, filter) {
			continue
		}
		out = append(out, &e)
	}
	slices.SortFunc(out, compareAudit)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) ListAuditAfter(ctx context.Context, afterID int64, until time.Time, limit int) ([]*AuditLogEntry, error) {
	var out []*AuditLogEntry
	for i := range q.st.audit {
		e := q.st.audit[i]
		if e.ID > afterID && !e.Timestamp.After(until) {
			out = append(out, &e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func auditMatches(e AuditLogEntry, f AuditFilter) bool {
	switch {
	case f.EntityType != "" && e.EntityType != f.EntityType:
		return false
	case f.EntityID != nil && e.EntityID != *f.EntityID:
		return false
	case f.Username != "" && e.Username != f.Username:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.From != nil && e.Timestamp.Before(*f.From):
		return false
	case f.Until != nil && !e.Timestamp.Before(*f.Until):
		return false
	}
	if f.AfterTimestamp != nil {
		c := e.Timestamp.Compare(*f.AfterTimestamp)
		if c < 0 || (c == 0 && e.ID <= f.AfterID) {
			return false
		}
	}
	return true
}

func compareAudit(a, b *AuditLogEntry) int {
	return cmp.Or(a.Timestamp.Compare(b.Timestamp), cmp.Compare(a.ID, b.ID))
}

// ── exposure ──────────────────────────────────────────────────────────────────

func (q *memQueries) ExposureSummary(ctx context.Context) ([]ExposureRow, error) {
	type key struct {
		kind   InstrumentType
		status string
	}
	groups := map[key]*ExposureRow{}
	add := func(k key, amount decimal.Decimal) {
		row, ok := groups[k]
		if !ok {
			row = &ExposureRow{Type: k.kind, Status: k.status, TotalAmount: decimal.Zero}
			groups[k] = row
		}
		row.Count++
		row.TotalAmount = row.TotalAmount.Add(amount)
	}

	for id, l := range q.st.leaves {
		if l.Status == LeafUnused || q.workflowOf(EntityChequeLeaf, id) != WorkflowNone {
			continue
		}
		amount := decimal.Zero
		if l.Amount.Valid {
			amount = l.Amount.Decimal
		}
		add(key{InstrumentOutgoing, string(l.Status)}, amount)
	}
	for id, c := range q.st.incoming {
		if q.workflowOf(EntityIncomingCheque, id) != WorkflowNone {
			continue
		}
		add(key{InstrumentIncoming, string(c.Status)}, c.Amount)
	}

	out := make([]ExposureRow, 0, len(groups))
	for _, row := range groups {
		out = append(out, *row)
	}
	slices.SortFunc(out, func(a, b ExposureRow) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Status, b.Status))
	})
	return out, nil
}

func (q *memQueries) OutgoingDetails(ctx context.Context, statuses []LeafStatus) ([]*ChequeLeaf, error) {
	var out []*ChequeLeaf
	for id, l := range q.st.leaves {
		if slices.Contains(statuses, l.Status) && q.workflowOf(EntityChequeLeaf, id) == WorkflowNone {
			out = append(out, q.leafView(l))
		}
	}
	slices.SortFunc(out, func(a, b *ChequeLeaf) int {
		return cmp.Or(compareNullableDate(a.ChequeDate, b.ChequeDate), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (q *memQueries) IncomingDetails(ctx context.Context, statuses []IncomingStatus) ([]*IncomingCheque, error) {
	var out []*IncomingCheque
	for id, c := range q.st.incoming {
		if slices.Contains(statuses, c.Status) && q.workflowOf(EntityIncomingCheque, id) == WorkflowNone {
			out = append(out, q.incomingView(c))
		}
	}
	sortIncoming(out)
	return out, nil
}

// compareNullableDate orders nil dates last.
func compareNullableDate(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*a, *b)
}
