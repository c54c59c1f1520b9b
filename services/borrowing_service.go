package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"fintracker/models"
	"fintracker/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxAmount - первое значение, которое не помещается в DECIMAL(20,2)
var maxAmount = decimal.New(1, 18)

// BorrowingStore - хранилище записей о долгах.
// Update - единственная операция чтения-изменения-записи: реализация обязана
// сериализовать параллельные вызовы для одной записи и ничего не сохранять,
// если mutate вернул ошибку.
type BorrowingStore interface {
	Create(ctx context.Context, b *models.Borrowing) error
	Get(ctx context.Context, ownerID, id string) (*models.Borrowing, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Borrowing, error)
	Update(ctx context.Context, ownerID, id string, mutate func(b *models.Borrowing) error) (*models.Borrowing, error)
	Delete(ctx context.Context, ownerID, id string) error
	ListReminderCandidates(ctx context.Context) ([]models.Borrowing, error)
	// MarkReminded сохраняет время напоминания, только если запись не менялась
	// с версии version, иначе возвращает ErrConcurrentUpdate
	MarkReminded(ctx context.Context, id string, version int64, at time.Time) error
}

// CounterpartyDTO - данные контрагента
type CounterpartyDTO struct {
	Name    string `json:"name" validate:"required,max=255"`
	Contact string `json:"contact" validate:"max=255"`
}

// ReminderDTO - настройки напоминания
type ReminderDTO struct {
	Enabled    bool `json:"enabled"`
	DaysBefore *int `json:"daysBefore" validate:"omitempty,gte=0,lte=365"`
}

// CreateBorrowingDTO представляет данные для создания записи о долге
type CreateBorrowingDTO struct {
	OwnerID      string           `json:"-" validate:"required"`
	OwnerEmail   string           `json:"-"`
	Direction    models.Direction `json:"type" validate:"required,oneof=borrowed lent"`
	Counterparty CounterpartyDTO  `json:"counterparty"`
	Amount       decimal.Decimal  `json:"amount"`
	DueDate      *time.Time       `json:"dueDate"`
	Notes        string           `json:"notes" validate:"max=2000"`
	Reminder     *ReminderDTO     `json:"reminder"`
}

// ListFilter - фильтр списка записей
type ListFilter string

const (
	FilterAll      ListFilter = "all"
	FilterOwedByMe ListFilter = "owed-by-me"
	FilterOwedToMe ListFilter = "owed-to-me"
	FilterOverdue  ListFilter = "overdue"
)

// ListOptions - параметры выборки; нулевое значение возвращает все записи
type ListOptions struct {
	Filter   ListFilter
	Page     int
	PageSize int // 0 - без постраничного вывода
}

// BorrowingService ведет учет занятых и одолженных денег
type BorrowingService struct {
	store     BorrowingStore
	validator *validator.Validate
	now       func() time.Time
}

// NewBorrowingService создает новый экземпляр BorrowingService
func NewBorrowingService(store BorrowingStore) *BorrowingService {
	v := validator.New()
	// В сообщениях об ошибках используем имена полей из JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &BorrowingService{
		store:     store,
		validator: v,
		now:       time.Now,
	}
}

// WithClock подменяет источник текущего времени
func (s *BorrowingService) WithClock(now func() time.Time) *BorrowingService {
	s.now = now
	return s
}

// Now возвращает текущее время по часам сервиса
func (s *BorrowingService) Now() time.Time {
	return s.now()
}

// Create создает новую запись: остаток равен сумме, статус pending
func (s *BorrowingService) Create(ctx context.Context, dto CreateBorrowingDTO) (*models.Borrowing, error) {
	dto.Counterparty.Name = strings.TrimSpace(dto.Counterparty.Name)
	dto.Counterparty.Contact = strings.TrimSpace(dto.Counterparty.Contact)
	dto.Notes = strings.TrimSpace(dto.Notes)

	if err := s.validateRequest(dto); err != nil {
		return nil, err
	}

	principal := dto.Amount.Round(2)
	if principal.IsNegative() {
		return nil, newValidationError("amount", "поле amount не может быть отрицательным")
	}
	if principal.GreaterThanOrEqual(maxAmount) {
		return nil, newValidationError("amount", "поле amount слишком большое")
	}

	enabled := false
	daysBefore := models.DefaultReminderDaysBefore
	if dto.Reminder != nil {
		enabled = dto.Reminder.Enabled
		if dto.Reminder.DaysBefore != nil {
			daysBefore = *dto.Reminder.DaysBefore
		}
	}

	b := &models.Borrowing{
		ID:                  uuid.NewString(),
		OwnerID:             dto.OwnerID,
		OwnerEmail:          dto.OwnerEmail,
		Direction:           dto.Direction,
		CounterpartyName:    dto.Counterparty.Name,
		CounterpartyContact: dto.Counterparty.Contact,
		Principal:           principal,
		Remaining:           principal,
		DueDate:             dto.DueDate,
		Notes:               dto.Notes,
		ReminderEnabled:     enabled,
		ReminderDaysBefore:  daysBefore,
		Status:              models.BorrowingStatusPending,
		Version:             1,
	}

	if err := s.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("ошибка при создании записи: %w", err)
	}

	utils.GetMetrics().RecordLedgerOperation("create", nil)
	return b, nil
}

// List возвращает записи владельца, новые первыми
func (s *BorrowingService) List(ctx context.Context, ownerID string, opts ListOptions) ([]models.Borrowing, error) {
	if opts.Page < 0 || opts.PageSize < 0 {
		return nil, newValidationError("page", "параметры страницы не могут быть отрицательными")
	}

	records, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении записей: %w", err)
	}

	now := s.now()
	switch opts.Filter {
	case "", FilterAll:
	case FilterOwedByMe, FilterOwedToMe, FilterOverdue:
		filtered := records[:0]
		for i := range records {
			if matchesFilter(&records[i], opts.Filter, now) {
				filtered = append(filtered, records[i])
			}
		}
		records = filtered
	default:
		return nil, newValidationError("filter", "неизвестный фильтр: "+string(opts.Filter))
	}

	if opts.PageSize == 0 {
		return records, nil
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * opts.PageSize
	if start >= len(records) {
		return []models.Borrowing{}, nil
	}
	end := start + opts.PageSize
	if end > len(records) {
		end = len(records)
	}
	return records[start:end], nil
}

// Get возвращает одну запись владельца
func (s *BorrowingService) Get(ctx context.Context, ownerID, id string) (*models.Borrowing, error) {
	b, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении записи: %w", err)
	}
	return b, nil
}

// ApplyPayment уменьшает остаток на сумму платежа. Переплата не сохраняется:
// остаток просто становится нулевым.
func (s *BorrowingService) ApplyPayment(ctx context.Context, ownerID, id string, amount decimal.Decimal) (*models.Borrowing, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, newValidationError("payment", "сумма платежа должна быть больше 0")
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return nil, newValidationError("payment", "сумма платежа слишком большая")
	}

	b, err := s.store.Update(ctx, ownerID, id, func(b *models.Borrowing) error {
		settle(b, amount)
		return nil
	})
	utils.GetMetrics().RecordLedgerOperation("payment", err)
	if err != nil {
		return nil, fmt.Errorf("ошибка при внесении платежа: %w", err)
	}

	utils.LogInfo("Borrowing %s: payment %s, remaining %s, status %s", b.ID, amount, b.Remaining, b.Status)
	return b, nil
}

// UpdateDueDate меняет срок; nil убирает срок вместе с просрочкой и напоминаниями
func (s *BorrowingService) UpdateDueDate(ctx context.Context, ownerID, id string, dueDate *time.Time) (*models.Borrowing, error) {
	b, err := s.store.Update(ctx, ownerID, id, func(b *models.Borrowing) error {
		b.DueDate = dueDate
		// новый срок - новое окно напоминания
		b.LastRemindedAt = nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка при изменении срока: %w", err)
	}
	return b, nil
}

// SetStatus выставляет статус вручную. Остаток не меняется: запись может быть
// paid с ненулевым остатком (например, долг простили).
func (s *BorrowingService) SetStatus(ctx context.Context, ownerID, id string, status models.BorrowingStatus) (*models.Borrowing, error) {
	if !status.Valid() {
		return nil, newValidationError("status", "поле status должно быть одним из: pending partial paid")
	}

	b, err := s.store.Update(ctx, ownerID, id, func(b *models.Borrowing) error {
		b.Status = status
		return nil
	})
	utils.GetMetrics().RecordLedgerOperation("status", err)
	if err != nil {
		return nil, fmt.Errorf("ошибка при изменении статуса: %w", err)
	}
	return b, nil
}

// Delete удаляет запись; повторное удаление возвращает ErrNotFound
func (s *BorrowingService) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.store.Delete(ctx, ownerID, id); err != nil {
		return fmt.Errorf("ошибка при удалении записи: %w", err)
	}
	utils.GetMetrics().RecordLedgerOperation("delete", nil)
	return nil
}

// Summary считает сводку по всем записям владельца
func (s *BorrowingService) Summary(ctx context.Context, ownerID string) (Summary, error) {
	records, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return Summary{}, fmt.Errorf("ошибка при получении записей: %w", err)
	}
	return Summarize(records, s.now()), nil
}

// settle применяет платеж к записи
func settle(b *models.Borrowing, amount decimal.Decimal) {
	remaining := b.Remaining.Sub(amount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	b.Remaining = remaining

	if remaining.IsZero() {
		b.Status = models.BorrowingStatusPaid
	} else {
		b.Status = models.BorrowingStatusPartial
	}
}

func matchesFilter(b *models.Borrowing, filter ListFilter, now time.Time) bool {
	switch filter {
	case FilterOwedByMe:
		return b.Direction == models.DirectionBorrowed
	case FilterOwedToMe:
		return b.Direction == models.DirectionLent
	case FilterOverdue:
		return IsOverdue(b, now)
	}
	return true
}

// validateRequest валидирует DTO и собирает ошибки по полям
func (s *BorrowingService) validateRequest(dto interface{}) error {
	err := s.validator.Struct(dto)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	verr := &ValidationError{}
	for _, e := range validationErrors {
		var msg string
		switch e.Tag() {
		case "required":
			msg = "поле " + e.Field() + " обязательно"
		case "oneof":
			msg = "поле " + e.Field() + " должно быть одним из: " + e.Param()
		case "gte":
			msg = "поле " + e.Field() + " должно быть не меньше " + e.Param()
		case "lte", "max":
			msg = "поле " + e.Field() + " превышает допустимое значение " + e.Param()
		default:
			msg = "поле " + e.Field() + " заполнено неверно"
		}
		verr.Fields = append(verr.Fields, FieldError{Field: e.Field(), Message: msg})
	}
	return verr
}
