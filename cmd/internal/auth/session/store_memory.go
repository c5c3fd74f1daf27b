package session

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

var errDuplicateDigest = errors.New("duplicate token digest")

// MemoryStore is an in-process Store for development and tests.
//
// Locked reads take a per-digest lock that is held until the unit of work
// ends, and transactional writes are staged and applied in one step on
// commit, so rotation sees the same serialization it gets from Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[int64]Row
	byDigest map[string]int64
	locks    map[string]chan struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[int64]Row),
		byDigest: make(map[string]int64),
		locks:    make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) Create(ctx context.Context, in NewRow) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	if in.SlidingExpiresAt.After(in.AbsoluteExpiresAt) {
		return Row{}, errSlidingAfterAbsolute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byDigest[in.TokenDigest]; ok {
		return Row{}, errDuplicateDigest
	}
	row := s.newRowLocked(in)
	s.rows[row.ID] = row
	s.byDigest[row.TokenDigest] = row.ID
	return row, nil
}

func (s *MemoryStore) GetByDigest(ctx context.Context, digest string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return Row{}, ErrNotFound
	}
	return s.rows[id], nil
}

func (s *MemoryStore) ListFamily(ctx context.Context, familyID string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Row
	for _, row := range s.rows {
		if row.FamilyID == familyID {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b Row) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// RevokeByDigest waits for any rotation holding the row before writing.
func (s *MemoryStore) RevokeByDigest(ctx context.Context, now time.Time, digest string, reason Reason) (int64, error) {
	if err := s.lock(ctx, digest); err != nil {
		return 0, err
	}
	defer s.unlock(digest)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return 0, nil
	}
	row := s.rows[id]
	if !row.Active() {
		return 0, nil
	}
	row.State = Revoked{At: now, Reason: reason}
	s.rows[id] = row
	return 1, nil
}

// RevokeAllForUser waits for every rotation holding one of the user's active
// rows, so a successor committed meanwhile is revoked too.
func (s *MemoryStore) RevokeAllForUser(ctx context.Context, now time.Time, userID string, reason Reason) (int64, error) {
	var held []string
	defer func() {
		for _, d := range held {
			s.unlock(d)
		}
	}()

	match := func(row Row) bool { return row.UserID == userID }
	for {
		pending := s.activeDigests(match, held)
		if len(pending) == 0 {
			break
		}
		for _, d := range pending {
			if err := s.lock(ctx, d); err != nil {
				return 0, err
			}
			held = append(held, d)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, row := range s.rows {
		if match(row) && row.Active() {
			row.State = Revoked{At: now, Reason: reason}
			s.rows[id] = row
			n++
		}
	}
	return n, nil
}

// activeDigests lists committed active rows matching fn whose lock is not in held.
func (s *MemoryStore) activeDigests(fn func(Row) bool, held []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, row := range s.rows {
		if fn(row) && row.Active() && !slices.Contains(held, row.TokenDigest) {
			out = append(out, row.TokenDigest)
		}
	}
	slices.Sort(out)
	return out
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{
		store:   s,
		updates: make(map[int64]Row),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies staged writes all-or-nothing. A staged Consumed update is
// conditional on the row still being active, like MarkRotated in Postgres;
// staged revocations are set-once and skip rows revoked meanwhile.
func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range tx.creates {
		if _, ok := s.byDigest[row.TokenDigest]; ok {
			return errDuplicateDigest
		}
	}
	for id, row := range tx.updates {
		if _, consume := row.State.(Consumed); !consume {
			continue
		}
		if cur, ok := s.rows[id]; !ok || !cur.Active() {
			return errRowNotActive
		}
	}

	for _, row := range tx.creates {
		s.rows[row.ID] = row
		s.byDigest[row.TokenDigest] = row.ID
	}
	for id, row := range tx.updates {
		if cur, ok := s.rows[id]; ok && !cur.Active() {
			continue
		}
		s.rows[id] = row
	}
	return nil
}

func (s *MemoryStore) newRowLocked(in NewRow) Row {
	s.nextID++
	return Row{
		ID:                s.nextID,
		UserID:            in.UserID,
		Role:              in.Role,
		FamilyID:          in.FamilyID,
		TokenDigest:       in.TokenDigest,
		CreatedAt:         in.Now,
		LastUsedAt:        in.Now,
		SlidingExpiresAt:  in.SlidingExpiresAt,
		AbsoluteExpiresAt: in.AbsoluteExpiresAt,
		State:             Active{},
		UserAgent:         in.Meta.UserAgent,
		IP:                in.Meta.IP,
	}
}

func (s *MemoryStore) lock(ctx context.Context, digest string) error {
	s.mu.Lock()
	ch, ok := s.locks[digest]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[digest] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) unlock(digest string) {
	s.mu.Lock()
	ch := s.locks[digest]
	s.mu.Unlock()
	<-ch
}

// memoryTx stages writes until commit.
type memoryTx struct {
	store   *MemoryStore
	held    []string
	creates []Row
	updates map[int64]Row
}

func (t *memoryTx) release() {
	for _, d := range t.held {
		t.store.unlock(d)
	}
	t.held = nil
}

// view returns the row as this tx sees it: staged writes over committed state.
func (t *memoryTx) view(id int64) (Row, bool) {
	if row, ok := t.updates[id]; ok {
		return row, true
	}
	for _, row := range t.creates {
		if row.ID == id {
			return row, true
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	row, ok := t.store.rows[id]
	return row, ok
}

func (t *memoryTx) GetByDigestForUpdate(ctx context.Context, digest string) (Row, error) {
	if !slices.Contains(t.held, digest) {
		if err := t.store.lock(ctx, digest); err != nil {
			return Row{}, err
		}
		t.held = append(t.held, digest)
	}

	for _, row := range t.creates {
		if row.TokenDigest == digest {
			return row, nil
		}
	}

	t.store.mu.Lock()
	id, ok := t.store.byDigest[digest]
	t.store.mu.Unlock()
	if !ok {
		return Row{}, ErrNotFound
	}
	row, _ := t.view(id)
	return row, nil
}

func (t *memoryTx) Create(ctx context.Context, in NewRow) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	if in.SlidingExpiresAt.After(in.AbsoluteExpiresAt) {
		return Row{}, errSlidingAfterAbsolute
	}
	for _, row := range t.creates {
		if row.TokenDigest == in.TokenDigest {
			return Row{}, errDuplicateDigest
		}
	}

	t.store.mu.Lock()
	_, dup := t.store.byDigest[in.TokenDigest]
	var row Row
	if !dup {
		row = t.store.newRowLocked(in)
	}
	t.store.mu.Unlock()
	if dup {
		return Row{}, errDuplicateDigest
	}

	t.creates = append(t.creates, row)
	return row, nil
}

func (t *memoryTx) MarkRotated(ctx context.Context, now time.Time, id int64, successorID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, ok := t.view(id)
	if !ok || !row.Active() {
		return errRowNotActive
	}
	row.LastUsedAt = now
	row.State = Consumed{At: now, SuccessorID: successorID}
	t.put(row)
	return nil
}

// RevokeFamily waits for rotations holding the family's active rows before
// revoking, so a successor committed meanwhile is included.
func (t *memoryTx) RevokeFamily(ctx context.Context, now time.Time, familyID string, reason Reason) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	match := func(row Row) bool { return row.FamilyID == familyID }
	for {
		pending := t.store.activeDigests(match, t.held)
		if len(pending) == 0 {
			break
		}
		for _, d := range pending {
			if err := t.store.lock(ctx, d); err != nil {
				return 0, err
			}
			t.held = append(t.held, d)
		}
	}

	t.store.mu.Lock()
	var ids []int64
	for id, row := range t.store.rows {
		if match(row) {
			ids = append(ids, id)
		}
	}
	t.store.mu.Unlock()
	for _, row := range t.creates {
		if match(row) {
			ids = append(ids, row.ID)
		}
	}

	var n int64
	for _, id := range ids {
		row, ok := t.view(id)
		if !ok || !row.Active() {
			continue
		}
		row.State = Revoked{At: now, Reason: reason}
		t.put(row)
		n++
	}
	return n, nil
}

func (t *memoryTx) put(row Row) {
	for i := range t.creates {
		if t.creates[i].ID == row.ID {
			t.creates[i] = row
			return
		}
	}
	t.updates[row.ID] = row
}
