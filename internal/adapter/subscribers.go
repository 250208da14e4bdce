package adapter

import (
	"sync"

	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/tag"
)

// subscription одна подписка: набор тегов + callback
type subscription struct {
	id  int64
	ids map[string]struct{} // пустая map = все теги
	cb  Callback
}

// matches проверяет, подписан ли клиент на тег
func (s *subscription) matches(tagID string) bool {
	if len(s.ids) == 0 {
		return true
	}
	_, ok := s.ids[tagID]
	return ok
}

// Subscribers реестр подписок, общий для всех адаптеров.
// Notify группирует значения по callback'у, чтобы каждый вызывался
// один раз за батч и только с "его" тегами.
type Subscribers struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*subscription
}

// NewSubscribers создаёт пустой реестр подписок
func NewSubscribers() *Subscribers {
	return &Subscribers{
		subs: make(map[int64]*subscription),
	}
}

// Add регистрирует подписку; пустой ids = все теги
func (s *Subscribers) Add(ids []string, cb Callback) Unsubscribe {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	s.mu.Lock()
	s.nextID++
	sub := &subscription{id: s.nextID, ids: idSet, cb: cb}
	s.subs[sub.id] = sub
	total := len(s.subs)
	s.mu.Unlock()

	logger.Debug("Subscription added", "tags", len(ids), "total_subscriptions", total)

	subID := sub.id
	return func() {
		s.mu.Lock()
		delete(s.subs, subID)
		s.mu.Unlock()
	}
}

// Count возвращает количество активных подписок
func (s *Subscribers) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Notify рассылает батч значений подписчикам.
// Паника в callback'е изолируется: один сбойный подписчик не должен
// остановить доставку остальным и уронить продюсера.
func (s *Subscribers) Notify(values []tag.Value) {
	if len(values) == 0 {
		return
	}

	s.mu.RLock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		var batch []tag.Value
		for _, v := range values {
			if sub.matches(v.TagID) {
				batch = append(batch, v)
			}
		}
		if len(batch) == 0 {
			continue
		}
		safeInvoke(sub.cb, batch)
	}
}

func safeInvoke(cb Callback, batch []tag.Value) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Subscriber callback panic", "panic", r, "batch_size", len(batch))
		}
	}()
	cb(batch)
}
