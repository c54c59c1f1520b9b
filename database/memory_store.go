package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"fintracker/models"
	"fintracker/services"
)

// MemoryStore хранит записи в памяти процесса. Используется при db.driver=memory и в тестах.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	seq     int64
	now     func() time.Time
}

type memoryRecord struct {
	b   models.Borrowing
	seq int64
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

// WithClock подменяет часы, которыми проставляются created_at/updated_at
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(ctx context.Context, b *models.Borrowing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.Version == 0 {
		b.Version = 1
	}

	s.seq++
	s.records[b.ID] = &memoryRecord{b: clone(b), seq: s.seq}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, ownerID, id string) (*models.Borrowing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.b.OwnerID != ownerID {
		return nil, services.ErrNotFound
	}
	b := clone(&rec.b)
	return &b, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]models.Borrowing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*memoryRecord, 0)
	for _, rec := range s.records {
		if rec.b.OwnerID == ownerID {
			recs = append(recs, rec)
		}
	}
	sortNewestFirst(recs)

	out := make([]models.Borrowing, 0, len(recs))
	for _, rec := range recs {
		out = append(out, clone(&rec.b))
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, ownerID, id string, mutate func(b *models.Borrowing) error) (*models.Borrowing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.b.OwnerID != ownerID {
		return nil, services.ErrNotFound
	}

	// Меняем копию, чтобы ошибка mutate не оставила частичных изменений
	b := clone(&rec.b)
	if err := mutate(&b); err != nil {
		return nil, err
	}
	b.Version = rec.b.Version + 1
	b.UpdatedAt = s.now()
	rec.b = b

	out := clone(&b)
	return &out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.b.OwnerID != ownerID {
		return services.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) ListReminderCandidates(ctx context.Context) ([]models.Borrowing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*memoryRecord, 0)
	for _, rec := range s.records {
		if rec.b.ReminderEnabled && rec.b.DueDate != nil && rec.b.Status != models.BorrowingStatusPaid {
			recs = append(recs, rec)
		}
	}
	sortNewestFirst(recs)

	out := make([]models.Borrowing, 0, len(recs))
	for _, rec := range recs {
		out = append(out, clone(&rec.b))
	}
	return out, nil
}

func (s *MemoryStore) MarkReminded(ctx context.Context, id string, version int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return services.ErrNotFound
	}
	if rec.b.Version != version {
		return services.ErrConcurrentUpdate
	}
	at = at.UTC()
	rec.b.LastRemindedAt = &at
	return nil
}

func sortNewestFirst(recs []*memoryRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].b.CreatedAt.Equal(recs[j].b.CreatedAt) {
			return recs[i].b.CreatedAt.After(recs[j].b.CreatedAt)
		}
		return recs[i].seq > recs[j].seq
	})
}

// clone копирует запись вместе с указателями на даты
func clone(b *models.Borrowing) models.Borrowing {
	c := *b
	if b.DueDate != nil {
		d := *b.DueDate
		c.DueDate = &d
	}
	if b.LastRemindedAt != nil {
		r := *b.LastRemindedAt
		c.LastRemindedAt = &r
	}
	return c
}
