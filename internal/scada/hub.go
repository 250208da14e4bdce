package scada

import (
	"sync"
	"time"

	"github.com/pv/scada-bridge/internal/adapter"
	"github.com/pv/scada-bridge/internal/alarm"
	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/tag"
)

// Event представляет событие для отправки подписчику
type Event struct {
	Type      string      `json:"type"` // "tag_update", "alarm", "alarm_archive", "adapter_status"
	Machine   string      `json:"machine,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client is one event-stream subscriber. A client filters tag updates
// by explicit tag IDs or by machine; alarm and status events reach
// every client.
type Client struct {
	tags    map[string]struct{} // пусто = все теги
	machine string
	events  chan Event
	done    chan struct{}
}

// Events возвращает канал событий клиента
func (c *Client) Events() <-chan Event { return c.events }

// Done закрывается при отключении клиента
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) wantsTag(tagID, machine string) bool {
	if len(c.tags) == 0 && c.machine == "" {
		return true
	}
	if _, ok := c.tags[tagID]; ok {
		return true
	}
	return c.machine != "" && c.machine == machine
}

// Hub управляет подписчиками на события сервиса
type Hub struct {
	registry *tag.Registry

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub создаёт новый hub
func NewHub(registry *tag.Registry) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[*Client]bool),
	}
}

// AddClient добавляет нового подписчика
func (h *Hub) AddClient(tagIDs []string, machine string) *Client {
	client := &Client{
		tags:    make(map[string]struct{}, len(tagIDs)),
		machine: machine,
		events:  make(chan Event, 32),
		done:    make(chan struct{}),
	}
	for _, id := range tagIDs {
		client.tags[id] = struct{}{}
	}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	logger.Debug("Event client connected", "tags", len(tagIDs), "machine", machine, "total_clients", total)
	return client
}

// RemoveClient удаляет подписчика
func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	close(client.done)
	logger.Debug("Event client disconnected", "total_clients", total)
}

// BroadcastValues отправляет батч обновлений тегов. Каждый клиент
// получает только подходящее под его фильтр подмножество.
func (h *Hub) BroadcastValues(values []tag.Value) {
	if len(values) == 0 {
		return
	}

	// Машина каждого тега нужна для фильтрации по machine
	machines := make([]string, len(values))
	for i, v := range values {
		if def := h.registry.ByID(v.TagID); def != nil {
			machines[i] = def.Machine
		}
	}

	now := time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		var subset []tag.Value
		for i, v := range values {
			if client.wantsTag(v.TagID, machines[i]) {
				subset = append(subset, v)
			}
		}
		if len(subset) == 0 {
			continue
		}
		h.send(client, Event{Type: "tag_update", Data: subset, Timestamp: now})
	}
}

// BroadcastAlarm отправляет событие активной аварии всем клиентам
func (h *Hub) BroadcastAlarm(a alarm.Alarm) {
	h.broadcastAll(Event{Type: "alarm", Data: a, Timestamp: time.Now()})
}

// BroadcastAlarmArchive отправляет закрытие аварии всем клиентам
func (h *Hub) BroadcastAlarmArchive(a alarm.Alarm) {
	h.broadcastAll(Event{Type: "alarm_archive", Data: a, Timestamp: time.Now()})
}

// BroadcastAdapterStatus отправляет изменение статуса подключения
func (h *Hub) BroadcastAdapterStatus(status adapter.ConnectionStatus) {
	h.broadcastAll(Event{Type: "adapter_status", Data: status, Timestamp: time.Now()})
}

func (h *Hub) broadcastAll(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		h.send(client, event)
	}
}

func (h *Hub) send(client *Client, event Event) {
	select {
	case client.events <- event:
	default:
		// Канал переполнен, пропускаем событие
		logger.Warn("Event client buffer full, dropping event", "type", event.Type)
	}
}

// ClientCount возвращает количество подписчиков
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
