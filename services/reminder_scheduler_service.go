package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fintracker/models"
	"fintracker/utils"
)

// ReminderNotifier доставляет напоминания владельцам записей
type ReminderNotifier interface {
	SendBorrowingReminder(to string, b *models.Borrowing, now time.Time) error
}

// ReminderSchedulerService периодически рассылает напоминания о сроках долгов
type ReminderSchedulerService struct {
	store    BorrowingStore
	notifier ReminderNotifier
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewReminderSchedulerService создает новый экземпляр ReminderSchedulerService
func NewReminderSchedulerService(store BorrowingStore, notifier ReminderNotifier, interval time.Duration) *ReminderSchedulerService {
	return &ReminderSchedulerService{
		store:    store,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start запускает планировщик; он работает до отмены ctx
func (s *ReminderSchedulerService) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Первая проверка сразу после старта
		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Done закрывается после остановки планировщика
func (s *ReminderSchedulerService) Done() <-chan struct{} {
	return s.done
}

func (s *ReminderSchedulerService) tick(ctx context.Context) {
	start := time.Now()
	sent, err := s.ProcessReminders(ctx, s.now())
	if err != nil {
		utils.LogError("Ошибка при обработке напоминаний: %v", err)
		return
	}
	if sent > 0 {
		utils.LogOperation(fmt.Sprintf("reminders (%d sent)", sent), start, nil)
	}
}

// ProcessReminders отправляет напоминания по записям, у которых сегодня открыто окно
// напоминания. По одной записи отправляется не больше одного письма в календарный день.
func (s *ReminderSchedulerService) ProcessReminders(ctx context.Context, now time.Time) (int, error) {
	records, err := s.store.ListReminderCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка при получении записей для напоминаний: %w", err)
	}

	today := startOfDay(now)
	sent := 0
	for i := range records {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		b := &records[i]
		if !IsReminderDue(b, now) || b.OwnerEmail == "" {
			continue
		}
		if b.LastRemindedAt != nil && !b.LastRemindedAt.In(now.Location()).Before(today) {
			continue
		}

		if err := s.notifier.SendBorrowingReminder(b.OwnerEmail, b, now); err != nil {
			// Ошибка одной записи не останавливает рассылку, попробуем на следующем проходе
			utils.GetMetrics().RecordReminder(err)
			utils.LogError("Ошибка при отправке напоминания по записи %s: %v", b.ID, err)
			continue
		}
		utils.GetMetrics().RecordReminder(nil)

		if err := s.store.MarkReminded(ctx, b.ID, b.Version, now); err != nil {
			if errors.Is(err, ErrConcurrentUpdate) {
				// запись изменили во время отправки, следующий проход решит заново
				utils.LogInfo("Запись %s изменена во время отправки напоминания", b.ID)
				continue
			}
			utils.LogError("Ошибка при сохранении времени напоминания по записи %s: %v", b.ID, err)
			continue
		}
		sent++
	}

	utils.GetMetrics().RecordReminderRun(now)
	return sent, nil
}
