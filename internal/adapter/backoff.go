package adapter

import (
	"math/rand"
	"time"
)

// Backoff экспоненциальная задержка переподключения с джиттером
// и жёстким лимитом попыток. После исчерпания лимита адаптер
// переходит в постоянный отказ до ручного Connect.
type Backoff struct {
	Initial     time.Duration // первая задержка (default: 1s)
	Max         time.Duration // потолок задержки (default: 30s)
	MaxAttempts int           // лимит попыток (0 = без лимита)

	attempts int
}

// Next возвращает задержку перед следующей попыткой
// и false если лимит попыток исчерпан.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.MaxAttempts > 0 && b.attempts >= b.MaxAttempts {
		return 0, false
	}
	b.attempts++

	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := initial << (b.attempts - 1)
	if delay > max || delay <= 0 {
		delay = max
	}

	// Джиттер ±25% чтобы рассинхронизировать переподключения
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	return delay + jitter, true
}

// Attempts возвращает число сделанных попыток
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Exhausted возвращает true если лимит попыток исчерпан
func (b *Backoff) Exhausted() bool {
	return b.MaxAttempts > 0 && b.attempts >= b.MaxAttempts
}

// Reset сбрасывает счётчик после успешного подключения
func (b *Backoff) Reset() {
	b.attempts = 0
}
