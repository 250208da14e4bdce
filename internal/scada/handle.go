package scada

import (
	"context"
	"sync"

	"github.com/pv/scada-bridge/internal/logger"
)

// Provider раздаёт ссылки на общий сервис. Первый Acquire запускает
// сервис, последний Release останавливает его.
type Provider struct {
	mu         sync.Mutex
	newService func() *Service
	svc        *Service
	refs       int
}

// NewProvider создаёт provider с отложенным конструктором сервиса
func NewProvider(newService func() *Service) *Provider {
	return &Provider{newService: newService}
}

// Handle is one reference to the shared service. Release is idempotent.
type Handle struct {
	provider *Provider
	svc      *Service

	mu       sync.Mutex
	released bool
}

// Acquire возвращает ссылку на сервис, запуская его при необходимости
func (p *Provider) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.svc == nil {
		svc := p.newService()
		if err := svc.Start(ctx); err != nil {
			return nil, err
		}
		p.svc = svc
	}

	p.refs++
	logger.Debug("Service handle acquired", "refs", p.refs)
	return &Handle{provider: p, svc: p.svc}, nil
}

// Refs возвращает количество активных ссылок
func (p *Provider) Refs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

// Service возвращает сервис, на который указывает ссылка
func (h *Handle) Service() *Service { return h.svc }

// Release освобождает ссылку. Последняя ссылка останавливает сервис.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	p := h.provider
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refs--
	logger.Debug("Service handle released", "refs", p.refs)
	if p.refs > 0 {
		return
	}

	if err := p.svc.Stop(); err != nil {
		logger.Warn("Service stop failed", "error", err)
	}
	p.svc = nil
}
