package services_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"fintracker/database"
	"fintracker/models"
	"fintracker/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "user-1"

var now = time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

func newService() (*services.BorrowingService, *database.MemoryStore) {
	store := database.NewMemoryStore()
	svc := services.NewBorrowingService(store).WithClock(func() time.Time { return now })
	return svc, store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createBorrowed(t *testing.T, svc *services.BorrowingService, amount string) *models.Borrowing {
	t.Helper()
	b, err := svc.Create(context.Background(), services.CreateBorrowingDTO{
		OwnerID:      owner,
		Direction:    models.DirectionBorrowed,
		Counterparty: services.CounterpartyDTO{Name: "Боб"},
		Amount:       dec(amount),
	})
	require.NoError(t, err)
	return b
}

func TestCreateBorrowedWithoutDueDate(t *testing.T) {
	svc, _ := newService()

	b := createBorrowed(t, svc, "1000")

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, owner, b.OwnerID)
	assert.True(t, dec("1000").Equal(b.Principal))
	assert.True(t, dec("1000").Equal(b.Remaining))
	assert.Equal(t, models.BorrowingStatusPending, b.Status)
	assert.Nil(t, b.DueDate)
	assert.False(t, b.ReminderEnabled)
	assert.Equal(t, models.DefaultReminderDaysBefore, b.ReminderDaysBefore)
	assert.False(t, b.CreatedAt.IsZero())
}

func TestCreateTrimsAndKeepsReminder(t *testing.T) {
	svc, _ := newService()
	due := now.AddDate(0, 0, 7)
	zero := 0

	b, err := svc.Create(context.Background(), services.CreateBorrowingDTO{
		OwnerID:      owner,
		OwnerEmail:   "owner@example.com",
		Direction:    models.DirectionLent,
		Counterparty: services.CounterpartyDTO{Name: "  Алиса ", Contact: " +7 900 "},
		Amount:       dec("99.999"),
		DueDate:      &due,
		Notes:        "  на ремонт ",
		Reminder:     &services.ReminderDTO{Enabled: true, DaysBefore: &zero},
	})
	require.NoError(t, err)

	assert.Equal(t, "Алиса", b.CounterpartyName)
	assert.Equal(t, "+7 900", b.CounterpartyContact)
	assert.Equal(t, "на ремонт", b.Notes)
	assert.Equal(t, "owner@example.com", b.OwnerEmail)
	assert.True(t, dec("100").Equal(b.Principal))
	assert.True(t, b.ReminderEnabled)
	assert.Equal(t, 0, b.ReminderDaysBefore)
	require.NotNil(t, b.DueDate)
	assert.True(t, due.Equal(*b.DueDate))
}

func TestCreateAllowsZeroPrincipal(t *testing.T) {
	svc, _ := newService()
	b := createBorrowed(t, svc, "0")
	assert.True(t, b.Remaining.IsZero())
	assert.Equal(t, models.BorrowingStatusPending, b.Status)
}

func TestCreateValidation(t *testing.T) {
	negative := -1
	tests := []struct {
		name  string
		dto   services.CreateBorrowingDTO
		field string
	}{
		{"missing owner", services.CreateBorrowingDTO{Direction: models.DirectionLent, Counterparty: services.CounterpartyDTO{Name: "Боб"}, Amount: dec("1")}, "OwnerID"},
		{"bad direction", services.CreateBorrowingDTO{OwnerID: owner, Direction: "gift", Counterparty: services.CounterpartyDTO{Name: "Боб"}, Amount: dec("1")}, "type"},
		{"blank counterparty", services.CreateBorrowingDTO{OwnerID: owner, Direction: models.DirectionLent, Counterparty: services.CounterpartyDTO{Name: "   "}, Amount: dec("1")}, "name"},
		{"negative amount", services.CreateBorrowingDTO{OwnerID: owner, Direction: models.DirectionLent, Counterparty: services.CounterpartyDTO{Name: "Боб"}, Amount: dec("-5")}, "amount"},
		{"amount too large", services.CreateBorrowingDTO{OwnerID: owner, Direction: models.DirectionLent, Counterparty: services.CounterpartyDTO{Name: "Боб"}, Amount: dec("1000000000000000000")}, "amount"},
		{"negative days before", services.CreateBorrowingDTO{OwnerID: owner, Direction: models.DirectionLent, Counterparty: services.CounterpartyDTO{Name: "Боб"}, Amount: dec("1"), Reminder: &services.ReminderDTO{Enabled: true, DaysBefore: &negative}}, "daysBefore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService()

			_, err := svc.Create(context.Background(), tt.dto)
			require.Error(t, err)
			assert.ErrorIs(t, err, services.ErrValidation)

			var verr *services.ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Fields)
			assert.Equal(t, tt.field, verr.Fields[0].Field)

			list, err := store.ListByOwner(context.Background(), owner)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestPaymentsSettleRecord(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	b := createBorrowed(t, svc, "1000")

	b, err := svc.ApplyPayment(ctx, owner, b.ID, dec("400"))
	require.NoError(t, err)
	assert.True(t, dec("600").Equal(b.Remaining))
	assert.Equal(t, models.BorrowingStatusPartial, b.Status)

	b, err = svc.ApplyPayment(ctx, owner, b.ID, dec("600"))
	require.NoError(t, err)
	assert.True(t, b.Remaining.IsZero())
	assert.Equal(t, models.BorrowingStatusPaid, b.Status)
}

func TestOverpaymentIsAbsorbed(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	b := createBorrowed(t, svc, "1000")

	_, err := svc.ApplyPayment(ctx, owner, b.ID, dec("400"))
	require.NoError(t, err)

	b, err = svc.ApplyPayment(ctx, owner, b.ID, dec("1500"))
	require.NoError(t, err)
	assert.True(t, b.Remaining.IsZero())
	assert.Equal(t, models.BorrowingStatusPaid, b.Status)
	assert.True(t, dec("1000").Equal(b.Principal))
}

func TestPaymentMustBePositive(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	b := createBorrowed(t, svc, "1000")

	for _, amount := range []string{"0", "-10", "0.004", "1000000000000000000"} {
		_, err := svc.ApplyPayment(ctx, owner, b.ID, dec(amount))
		assert.ErrorIs(t, err, services.ErrValidation, "amount=%s", amount)
	}

	got, err := svc.Get(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(got.Remaining))
	assert.Equal(t, models.BorrowingStatusPending, got.Status)
	assert.Equal(t, b.Version, got.Version)
}

func TestRemainingNeverIncreases(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	b := createBorrowed(t, svc, "100")

	prev := b.Remaining
	for _, p := range []string{"10", "0.01", "33.33", "5", "1000", "1"} {
		got, err := svc.ApplyPayment(ctx, owner, b.ID, dec(p))
		require.NoError(t, err)
		assert.True(t, got.Remaining.LessThanOrEqual(prev))
		assert.False(t, got.Remaining.IsNegative())
		assert.True(t, got.Remaining.LessThanOrEqual(got.Principal))
		if got.Remaining.IsPositive() {
			assert.NotEqual(t, models.BorrowingStatusPaid, got.Status)
		}
		prev = got.Remaining
	}
}

func TestSetStatusKeepsRemaining(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	b := createBorrowed(t, svc, "1000")

	_, err := svc.ApplyPayment(ctx, owner, b.ID, dec("400"))
	require.NoError(t, err)

	b, err = svc.SetStatus(ctx, owner, b.ID, models.BorrowingStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, models.BorrowingStatusPaid, b.Status)
	assert.True(t, dec("600").Equal(b.Remaining))

	// обратный переход тоже разрешен и остаток не восстанавливается
	b, err = svc.SetStatus(ctx, owner, b.ID, models.BorrowingStatusPending)
	require.NoError(t, err)
	assert.Equal(t, models.BorrowingStatusPending, b.Status)
	assert.True(t, dec("600").Equal(b.Remaining))

	_, err = svc.SetStatus(ctx, owner, b.ID, "forgiven")
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestUpdateDueDate(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	b := createBorrowed(t, svc, "1000")

	past := now.AddDate(0, 0, -3)
	b, err := svc.UpdateDueDate(ctx, owner, b.ID, &past)
	require.NoError(t, err)
	require.NotNil(t, b.DueDate)
	assert.True(t, services.IsOverdue(b, now))

	require.NoError(t, store.MarkReminded(ctx, b.ID, b.Version, now))

	b, err = svc.UpdateDueDate(ctx, owner, b.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, b.DueDate)
	assert.Nil(t, b.LastRemindedAt)
	assert.False(t, services.IsOverdue(b, now))
	assert.Equal(t, models.SeverityNormal, services.OverdueSeverity(b, now))
}

func TestForeignOwnerGetsNotFound(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	b := createBorrowed(t, svc, "1000")

	_, err := svc.Get(ctx, "intruder", b.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = svc.ApplyPayment(ctx, "intruder", b.ID, dec("1"))
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = svc.UpdateDueDate(ctx, "intruder", b.ID, nil)
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = svc.SetStatus(ctx, "intruder", b.ID, models.BorrowingStatusPaid)
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "intruder", b.ID), services.ErrNotFound)

	_, err = svc.Get(ctx, owner, "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)

	got, err := svc.Get(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(got.Remaining))
}

func TestDeleteTwice(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	b := createBorrowed(t, svc, "1000")

	require.NoError(t, svc.Delete(ctx, owner, b.ID))
	assert.ErrorIs(t, svc.Delete(ctx, owner, b.ID), services.ErrNotFound)

	_, err := svc.Get(ctx, owner, b.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestListNewestFirstWithFilters(t *testing.T) {
	store := database.NewMemoryStore()
	clock := now.Add(-time.Hour)
	store.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})
	svc := services.NewBorrowingService(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	past := now.AddDate(0, 0, -1)
	names := []string{"первый", "второй", "третий", "четвертый"}
	dirs := []models.Direction{models.DirectionBorrowed, models.DirectionLent, models.DirectionBorrowed, models.DirectionLent}
	for i, name := range names {
		dto := services.CreateBorrowingDTO{
			OwnerID:      owner,
			Direction:    dirs[i],
			Counterparty: services.CounterpartyDTO{Name: name},
			Amount:       dec("10"),
		}
		if i%2 == 1 {
			dto.DueDate = &past
		}
		_, err := svc.Create(ctx, dto)
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, services.CreateBorrowingDTO{
		OwnerID: "someone-else", Direction: models.DirectionLent,
		Counterparty: services.CounterpartyDTO{Name: "чужой"}, Amount: dec("1"),
	})
	require.NoError(t, err)

	all, err := svc.List(ctx, owner, services.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"четвертый", "третий", "второй", "первый"}, counterparties(all))

	byMe, err := svc.List(ctx, owner, services.ListOptions{Filter: services.FilterOwedByMe})
	require.NoError(t, err)
	assert.Equal(t, []string{"третий", "первый"}, counterparties(byMe))

	toMe, err := svc.List(ctx, owner, services.ListOptions{Filter: services.FilterOwedToMe})
	require.NoError(t, err)
	assert.Equal(t, []string{"четвертый", "второй"}, counterparties(toMe))

	overdue, err := svc.List(ctx, owner, services.ListOptions{Filter: services.FilterOverdue})
	require.NoError(t, err)
	assert.Equal(t, []string{"четвертый", "второй"}, counterparties(overdue))

	page2, err := svc.List(ctx, owner, services.ListOptions{Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"первый"}, counterparties(page2))

	page3, err := svc.List(ctx, owner, services.ListOptions{Page: 3, PageSize: 3})
	require.NoError(t, err)
	assert.Empty(t, page3)

	_, err = svc.List(ctx, owner, services.ListOptions{Filter: "mine"})
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = svc.List(ctx, owner, services.ListOptions{PageSize: -1})
	assert.ErrorIs(t, err, services.ErrValidation)

	empty, err := svc.List(ctx, "nobody", services.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSummary(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	b := createBorrowed(t, svc, "1000")
	_, err := svc.ApplyPayment(ctx, owner, b.ID, dec("400"))
	require.NoError(t, err)

	past := now.AddDate(0, 0, -2)
	_, err = svc.Create(ctx, services.CreateBorrowingDTO{
		OwnerID: owner, Direction: models.DirectionLent,
		Counterparty: services.CounterpartyDTO{Name: "Алиса"}, Amount: dec("250.50"), DueDate: &past,
	})
	require.NoError(t, err)

	s, err := svc.Summary(ctx, owner)
	require.NoError(t, err)
	assert.True(t, dec("600").Equal(s.TotalOwedByOwner))
	assert.True(t, dec("250.5").Equal(s.TotalOwedToOwner))
	assert.Equal(t, 1, s.OverdueCount)
	assert.True(t, dec("250.5").Equal(s.OverdueAmount))
	assert.Equal(t, 2, s.Total)
}

func TestConcurrentPaymentsSerialize(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	b := createBorrowed(t, svc, "100")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyPayment(ctx, owner, b.ID, dec("4"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(got.Remaining), "remaining=%s", got.Remaining)
	assert.Equal(t, models.BorrowingStatusPartial, got.Status)
	assert.Equal(t, int64(21), got.Version)
}

func TestExportWritesOwnerRecords(t *testing.T) {
	svc, _ := newService()
	createBorrowed(t, svc, "1000")
	_, err := svc.Create(context.Background(), services.CreateBorrowingDTO{
		OwnerID: "someone-else", Direction: models.DirectionLent,
		Counterparty: services.CounterpartyDTO{Name: "Чужой"}, Amount: dec("5"),
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, services.NewExportService(svc).Export(context.Background(), owner, &buf))

	out := buf.String()
	assert.Contains(t, out, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, out, "<name>Боб</name>")
	assert.Contains(t, out, "<owedByMe>1000.00</owedByMe>")
	assert.NotContains(t, out, "Чужой")
}

func counterparties(records []models.Borrowing) []string {
	out := make([]string, 0, len(records))
	for _, b := range records {
		out = append(out, b.CounterpartyName)
	}
	return out
}
