package adapter

import (
	"sync"
	"time"
)

// StatusTracker держит статус подключения и счётчики адаптера
// под одним мьютексом. Встраивается в реализации адаптеров.
type StatusTracker struct {
	mu     sync.RWMutex
	status ConnectionStatus
	stats  Statistics
}

// SetState переводит адаптер в новое состояние
func (t *StatusTracker) SetState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.State = state
	t.status.LastAttemptAt = time.Now().UTC()
	if state == StateConnected {
		t.status.ConnectedAt = time.Now().UTC()
		t.status.LastError = ""
	}
}

// SetError переводит адаптер в состояние ошибки
func (t *StatusTracker) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.State = StateError
	t.status.LastAttemptAt = time.Now().UTC()
	if err != nil {
		t.status.LastError = err.Error()
	}
	t.stats.Errors++
}

// RecordReconnect увеличивает счётчик переподключений
func (t *StatusTracker) RecordReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Reconnects++
	t.stats.Reconnects++
}

// RecordReads учитывает n прочитанных значений
func (t *StatusTracker) RecordReads(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Reads += int64(n)
	t.stats.LastUpdate = time.Now().UTC()
}

// RecordWrite учитывает запись
func (t *StatusTracker) RecordWrite() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Writes++
	t.stats.LastUpdate = time.Now().UTC()
}

// RecordError учитывает ошибку без смены состояния
func (t *StatusTracker) RecordError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Errors++
}

// IsConnected возвращает true в состоянии connected
func (t *StatusTracker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.State == StateConnected
}

// ConnectionStatus возвращает копию статуса
func (t *StatusTracker) ConnectionStatus() ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Statistics возвращает копию счётчиков
func (t *StatusTracker) Statistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
