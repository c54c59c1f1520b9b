package utils

import (
	"sync"
	"time"
)

// RateLimiter ограничивает число запросов на ключ в скользящем окне
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// LimitStatus - состояние лимита после проверки
type LimitStatus struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// NewRateLimiter создает новый RateLimiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// WithClock подменяет часы (для тестов)
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// Allow проверяет, разрешен ли запрос, и учитывает его
func (rl *RateLimiter) Allow(key string) LimitStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	requests := rl.prune(key, now)

	status := LimitStatus{Limit: rl.limit}
	if len(requests) >= rl.limit {
		status.Reset = requests[0].Add(rl.window)
		return status
	}

	requests = append(requests, now)
	rl.requests[key] = requests

	status.Allowed = true
	status.Remaining = rl.limit - len(requests)
	status.Reset = requests[0].Add(rl.window)
	return status
}

// Reset сбрасывает счетчик для ключа
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.requests, key)
}

// prune убирает запросы за пределами окна; пустые ключи удаляются
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)

	requests := rl.requests[key]
	i := 0
	for i < len(requests) && !requests[i].After(windowStart) {
		i++
	}
	requests = requests[i:]

	if len(requests) == 0 {
		delete(rl.requests, key)
		return nil
	}
	rl.requests[key] = requests
	return requests
}
