package services

import (
	"time"

	"fintracker/models"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Summary - сводка по всем записям владельца
type Summary struct {
	TotalOwedByOwner decimal.Decimal `json:"owedByMe"`
	TotalOwedToOwner decimal.Decimal `json:"owedToMe"`
	OverdueCount     int             `json:"overdueCount"`
	OverdueAmount    decimal.Decimal `json:"overdueAmount"`
	Total            int             `json:"total"`
}

// IsOverdue: срок задан, уже прошел, и долг не погашен
func IsOverdue(b *models.Borrowing, now time.Time) bool {
	return b.DueDate != nil && b.DueDate.Before(now) && b.Status != models.BorrowingStatusPaid
}

// OverdueDays возвращает число дней просрочки; неполный день считается целым
func OverdueDays(b *models.Borrowing, now time.Time) int {
	if !IsOverdue(b, now) {
		return 0
	}
	late := now.Sub(*b.DueDate)
	days := late / day
	if late%day != 0 {
		days++
	}
	return int(days)
}

// OverdueSeverity переводит дни просрочки в степень
func OverdueSeverity(b *models.Borrowing, now time.Time) models.OverdueSeverity {
	days := OverdueDays(b, now)
	switch {
	case days <= 0:
		return models.SeverityNormal
	case days <= 7:
		return models.SeverityMild
	case days <= 30:
		return models.SeverityModerate
	default:
		return models.SeveritySevere
	}
}

// IsReminderDue проверяет, попадает ли сегодняшний день в окно напоминания
// [срок - daysBefore, срок]. Время суток не учитывается, дни считаются в зоне now.
func IsReminderDue(b *models.Borrowing, now time.Time) bool {
	if !b.ReminderEnabled || b.Status == models.BorrowingStatusPaid || b.DueDate == nil {
		return false
	}

	due := startOfDay(b.DueDate.In(now.Location()))
	from := due.AddDate(0, 0, -b.ReminderDaysBefore)
	today := startOfDay(now)

	return !today.Before(from) && !today.After(due)
}

// Summarize считает сводку по переданным записям
func Summarize(records []models.Borrowing, now time.Time) Summary {
	s := Summary{
		TotalOwedByOwner: decimal.Zero,
		TotalOwedToOwner: decimal.Zero,
		OverdueAmount:    decimal.Zero,
		Total:            len(records),
	}

	for i := range records {
		b := &records[i]
		switch b.Direction {
		case models.DirectionBorrowed:
			s.TotalOwedByOwner = s.TotalOwedByOwner.Add(b.Remaining)
		case models.DirectionLent:
			s.TotalOwedToOwner = s.TotalOwedToOwner.Add(b.Remaining)
		}
		if IsOverdue(b, now) {
			s.OverdueCount++
			s.OverdueAmount = s.OverdueAmount.Add(b.Remaining)
		}
	}

	return s
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
