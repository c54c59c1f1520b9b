package utils

import (
	"sync"
	"time"
)

// Metrics содержит метрики приложения
type Metrics struct {
	mu sync.RWMutex

	// Метрики запросов
	TotalRequests   int64
	FailedRequests  int64
	RequestLatency  time.Duration
	AverageLatency  time.Duration
	LastRequestTime time.Time

	// Метрики операций с долгами
	LedgerOperations map[string]int64
	LedgerFailures   map[string]int64

	// Метрики напоминаний
	RemindersSent   int64
	RemindersFailed int64
	LastReminderRun time.Time

	// Метрики ошибок
	ErrorCount    int64
	LastErrorTime time.Time
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics возвращает экземпляр метрик
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		LedgerOperations: make(map[string]int64),
		LedgerFailures:   make(map[string]int64),
	}
}

// RecordRequest записывает метрики HTTP-запроса; failed - ответ с кодом 5xx
func (m *Metrics) RecordRequest(duration time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	m.RequestLatency += duration
	m.AverageLatency = m.RequestLatency / time.Duration(m.TotalRequests)
	m.LastRequestTime = time.Now()

	if failed {
		m.FailedRequests++
		m.recordErrorLocked()
	}
}

// RecordLedgerOperation записывает операцию над записью о долге (create, payment, status, delete)
func (m *Metrics) RecordLedgerOperation(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.LedgerFailures[operation]++
		m.recordErrorLocked()
		return
	}
	m.LedgerOperations[operation]++
}

// RecordReminder записывает результат отправки напоминания
func (m *Metrics) RecordReminder(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.RemindersFailed++
		m.recordErrorLocked()
		return
	}
	m.RemindersSent++
}

// RecordReminderRun отмечает время очередного прохода планировщика
func (m *Metrics) RecordReminderRun(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastReminderRun = at
}

func (m *Metrics) recordErrorLocked() {
	m.ErrorCount++
	m.LastErrorTime = time.Now()
}

// GetMetricsSnapshot возвращает снимок текущих метрик
func (m *Metrics) GetMetricsSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make(map[string]int64, len(m.LedgerOperations))
	for k, v := range m.LedgerOperations {
		ops[k] = v
	}
	failures := make(map[string]int64, len(m.LedgerFailures))
	for k, v := range m.LedgerFailures {
		failures[k] = v
	}

	return map[string]interface{}{
		"total_requests":    m.TotalRequests,
		"failed_requests":   m.FailedRequests,
		"average_latency":   m.AverageLatency.String(),
		"ledger_operations": ops,
		"ledger_failures":   failures,
		"reminders_sent":    m.RemindersSent,
		"reminders_failed":  m.RemindersFailed,
		"last_reminder_run": m.LastReminderRun,
		"error_count":       m.ErrorCount,
		"last_error_time":   m.LastErrorTime,
	}
}

// ResetMetrics сбрасывает все метрики
func (m *Metrics) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests = 0
	m.FailedRequests = 0
	m.RequestLatency = 0
	m.AverageLatency = 0
	m.LedgerOperations = make(map[string]int64)
	m.LedgerFailures = make(map[string]int64)
	m.RemindersSent = 0
	m.RemindersFailed = 0
	m.ErrorCount = 0
}
