package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction показывает, кто кому должен
type Direction string

const (
	DirectionBorrowed Direction = "borrowed" // владелец должен контрагенту
	DirectionLent     Direction = "lent"     // контрагент должен владельцу
)

// Valid проверяет, что направление известно
func (d Direction) Valid() bool {
	return d == DirectionBorrowed || d == DirectionLent
}

// BorrowingStatus представляет статус записи о долге
type BorrowingStatus string

const (
	BorrowingStatusPending BorrowingStatus = "pending"
	BorrowingStatusPartial BorrowingStatus = "partial"
	BorrowingStatusPaid    BorrowingStatus = "paid"
)

// Valid проверяет, что статус известен
func (s BorrowingStatus) Valid() bool {
	switch s {
	case BorrowingStatusPending, BorrowingStatusPartial, BorrowingStatusPaid:
		return true
	}
	return false
}

// OverdueSeverity - степень просрочки, вычисляется при чтении и не хранится
type OverdueSeverity string

const (
	SeverityNormal   OverdueSeverity = "normal"
	SeverityMild     OverdueSeverity = "mild"
	SeverityModerate OverdueSeverity = "moderate"
	SeveritySevere   OverdueSeverity = "severe"
)

// DefaultReminderDaysBefore - за сколько дней до срока напоминать по умолчанию
const DefaultReminderDaysBefore = 3

// Borrowing представляет запись о занятых или одолженных деньгах
type Borrowing struct {
	ID                  string          `gorm:"column:id;primaryKey;type:uuid"`
	OwnerID             string          `gorm:"column:owner_id;not null;size:64;index:idx_borrowings_owner_created,priority:1"`
	OwnerEmail          string          `gorm:"column:owner_email;size:255"`
	Direction           Direction       `gorm:"column:type;type:varchar(16);not null"`
	CounterpartyName    string          `gorm:"column:counterparty_name;not null;size:255"`
	CounterpartyContact string          `gorm:"column:counterparty_contact;type:text"`
	Principal           decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null"`
	Remaining           decimal.Decimal `gorm:"column:remaining;type:decimal(20,2);not null"`
	DueDate             *time.Time      `gorm:"column:due_date"`
	Notes               string          `gorm:"column:notes;type:text"`
	ReminderEnabled     bool            `gorm:"column:reminder_enabled;not null"`
	ReminderDaysBefore  int             `gorm:"column:reminder_days_before;not null"`
	Status              BorrowingStatus `gorm:"column:status;type:varchar(16);not null"`
	LastRemindedAt      *time.Time      `gorm:"column:last_reminded_at"`
	Version             int64           `gorm:"column:version;not null"`
	CreatedAt           time.Time       `gorm:"column:created_at;index:idx_borrowings_owner_created,priority:2,sort:desc"`
	UpdatedAt           time.Time       `gorm:"column:updated_at"`
}

// TableName возвращает имя таблицы для модели Borrowing
func (Borrowing) TableName() string {
	return "borrowings"
}
