package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fintracker/models"
	"fintracker/services"
	"fintracker/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	_ services.BorrowingStore = (*BorrowingRepository)(nil)
	_ services.BorrowingStore = (*MemoryStore)(nil)
)

// BorrowingRepository хранит записи о долгах в PostgreSQL через GORM
type BorrowingRepository struct {
	db     *gorm.DB
	cipher *utils.ContactCipher
}

// NewBorrowingRepository создает репозиторий. cipher может быть nil - тогда контакты не шифруются.
func NewBorrowingRepository(db *gorm.DB, cipher *utils.ContactCipher) *BorrowingRepository {
	return &BorrowingRepository{db: db, cipher: cipher}
}

func (r *BorrowingRepository) Create(ctx context.Context, b *models.Borrowing) error {
	row := *b
	contact, err := r.cipher.Encrypt(b.CounterpartyContact)
	if err != nil {
		return fmt.Errorf("ошибка шифрования контакта: %w", err)
	}
	row.CounterpartyContact = contact

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}

	b.CreatedAt = row.CreatedAt
	b.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *BorrowingRepository) Get(ctx context.Context, ownerID, id string) (*models.Borrowing, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, services.ErrNotFound
	}

	var b models.Borrowing
	err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&b).Error
	if err != nil {
		return nil, notFound(err)
	}

	if err := r.open(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BorrowingRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Borrowing, error) {
	var records []models.Borrowing
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	for i := range records {
		if err := r.open(&records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Update блокирует строку (SELECT ... FOR UPDATE), применяет mutate и записывает
// изменяемые поля с проверкой версии.
func (r *BorrowingRepository) Update(ctx context.Context, ownerID, id string, mutate func(b *models.Borrowing) error) (*models.Borrowing, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, services.ErrNotFound
	}

	var out *models.Borrowing
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b models.Borrowing
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND owner_id = ?", id, ownerID).
			First(&b).Error; err != nil {
			return notFound(err)
		}
		if err := r.open(&b); err != nil {
			return err
		}

		version := b.Version
		if err := mutate(&b); err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Borrowing{}).
			Where("id = ? AND owner_id = ? AND version = ?", id, ownerID, version).
			Updates(map[string]interface{}{
				"remaining":        b.Remaining,
				"status":           b.Status,
				"due_date":         b.DueDate,
				"last_reminded_at": b.LastRemindedAt,
				"version":          version + 1,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return services.ErrConcurrentUpdate
		}

		b.Version = version + 1
		b.UpdatedAt = now
		out = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BorrowingRepository) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return services.ErrNotFound
	}

	res := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&models.Borrowing{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *BorrowingRepository) ListReminderCandidates(ctx context.Context) ([]models.Borrowing, error) {
	var records []models.Borrowing
	if err := r.db.WithContext(ctx).
		Where("reminder_enabled = ? AND due_date IS NOT NULL AND status <> ?", true, models.BorrowingStatusPaid).
		Order("due_date ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	for i := range records {
		if err := r.open(&records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// MarkReminded не увеличивает version: отметка о напоминании не конфликтует с платежами
func (r *BorrowingRepository) MarkReminded(ctx context.Context, id string, version int64, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Borrowing{}).
		Where("id = ? AND version = ?", id, version).
		Update("last_reminded_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Borrowing{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return services.ErrNotFound
	}
	return services.ErrConcurrentUpdate
}

// open расшифровывает контакт контрагента
func (r *BorrowingRepository) open(b *models.Borrowing) error {
	contact, err := r.cipher.Decrypt(b.CounterpartyContact)
	if err != nil {
		return fmt.Errorf("ошибка расшифровки контакта записи %s: %w", b.ID, err)
	}
	b.CounterpartyContact = contact
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return services.ErrNotFound
	}
	return err
}
