package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintracker/models"
	"fintracker/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRecord(id, owner string) *models.Borrowing {
	return &models.Borrowing{
		ID:               id,
		OwnerID:          owner,
		Direction:        models.DirectionBorrowed,
		CounterpartyName: "Боб",
		Principal:        decimal.NewFromInt(100),
		Remaining:        decimal.NewFromInt(100),
		Status:           models.BorrowingStatusPending,
	}
}

func TestMemoryStoreUpdateIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newRecord("a", "u1")))

	boom := errors.New("boom")
	_, err := store.Update(ctx, "u1", "a", func(b *models.Borrowing) error {
		b.Remaining = decimal.NewFromInt(1)
		b.Status = models.BorrowingStatusPartial
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "u1", "a")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(got.Remaining))
	assert.Equal(t, models.BorrowingStatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)

	updated, err := store.Update(ctx, "u1", "a", func(b *models.Borrowing) error {
		b.Remaining = decimal.NewFromInt(40)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	want := due
	rec := newRecord("a", "u1")
	rec.DueDate = &due
	require.NoError(t, store.Create(ctx, rec))

	// изменения вызывающего не попадают в хранилище
	rec.CounterpartyName = "Мэллори"
	*rec.DueDate = due.AddDate(1, 0, 0)

	got, err := store.Get(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "Боб", got.CounterpartyName)
	assert.True(t, want.Equal(*got.DueDate))

	// и наоборот: правка полученной копии не меняет запись
	*got.DueDate = want.AddDate(0, 0, 5)
	again, err := store.Get(ctx, "u1", "a")
	require.NoError(t, err)
	assert.True(t, want.Equal(*again.DueDate))
}

func TestMemoryStoreScopesByOwner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newRecord("a", "u1")))

	_, err := store.Get(ctx, "u2", "a")
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = store.Update(ctx, "u2", "a", func(*models.Borrowing) error { return nil })
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "u2", "a"), services.ErrNotFound)

	list, err := store.ListByOwner(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, store.Delete(ctx, "u1", "a"))
	assert.ErrorIs(t, store.Delete(ctx, "u1", "a"), services.ErrNotFound)
}

func TestMemoryStoreReminderCandidates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	withReminder := newRecord("a", "u1")
	withReminder.ReminderEnabled = true
	withReminder.DueDate = &due

	noDue := newRecord("b", "u1")
	noDue.ReminderEnabled = true

	paid := newRecord("c", "u2")
	paid.ReminderEnabled = true
	paid.DueDate = &due
	paid.Status = models.BorrowingStatusPaid

	for _, b := range []*models.Borrowing{withReminder, noDue, paid, newRecord("d", "u2")} {
		require.NoError(t, store.Create(ctx, b))
	}

	candidates, err := store.ListReminderCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "a", candidates[0].ID)

	at := time.Date(2025, 2, 27, 9, 0, 0, 0, time.FixedZone("MSK", 3*60*60))
	require.NoError(t, store.MarkReminded(ctx, "a", candidates[0].Version, at))
	got, err := store.Get(ctx, "u1", "a")
	require.NoError(t, err)
	require.NotNil(t, got.LastRemindedAt)
	assert.True(t, at.Equal(*got.LastRemindedAt))
	// отметка не меняет версию
	assert.Equal(t, candidates[0].Version, got.Version)

	assert.ErrorIs(t, store.MarkReminded(ctx, "missing", 1, at), services.ErrNotFound)
}

func TestMemoryStoreMarkRemindedRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := newRecord("a", "u1")
	rec.ReminderEnabled = true
	rec.DueDate = &due
	require.NoError(t, store.Create(ctx, rec))

	candidates, err := store.ListReminderCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	_, err = store.Update(ctx, "u1", "a", func(b *models.Borrowing) error {
		next := due.AddDate(0, 0, 10)
		b.DueDate = &next
		b.LastRemindedAt = nil
		return nil
	})
	require.NoError(t, err)

	at := time.Date(2025, 2, 27, 9, 0, 0, 0, time.UTC)
	err = store.MarkReminded(ctx, "a", candidates[0].Version, at)
	assert.ErrorIs(t, err, services.ErrConcurrentUpdate)

	got, err := store.Get(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Nil(t, got.LastRemindedAt)
}

func TestNotFoundMapping(t *testing.T) {
	assert.ErrorIs(t, notFound(gorm.ErrRecordNotFound), services.ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, notFound(other))
}

func TestRepositoryRejectsMalformedID(t *testing.T) {
	// до базы запрос не доходит, поэтому db может быть nil
	repo := NewBorrowingRepository(nil, nil)
	ctx := context.Background()

	_, err := repo.Get(ctx, "u1", "not-a-uuid")
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = repo.Update(ctx, "u1", "not-a-uuid", func(*models.Borrowing) error { return nil })
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "u1", "not-a-uuid"), services.ErrNotFound)
}

type countingCloser struct {
	closed int
	err    error
}

func (c *countingCloser) Close() error {
	c.closed++
	return c.err
}

func TestMigrateOrClose(t *testing.T) {
	pool := &countingCloser{}
	require.NoError(t, migrateOrClose(pool, func() error { return nil }))
	assert.Equal(t, 0, pool.closed)

	migrateErr := errors.New("dirty database version 1")
	closeErr := errors.New("close failed")
	pool = &countingCloser{err: closeErr}
	err := migrateOrClose(pool, func() error { return migrateErr })
	assert.Equal(t, 1, pool.closed)
	assert.ErrorIs(t, err, migrateErr)
	assert.ErrorIs(t, err, closeErr)
}
