package service

import (
	"context"
	"sync"

	"exchange_core/internal/channels"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Registry: менеджеры бирж процесса по имени биржи. Владелец: корень композиции.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
	order    []string
	chans    *channels.Registry
}

func NewRegistry() *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
		chans:    channels.NewRegistry(),
	}
}

func (r *Registry) Add(m *Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.managers[m.Name()]; ok {
		return errors.Errorf("exchange %s already registered", m.Name())
	}
	r.managers[m.Name()] = m
	r.order = append(r.order, m.Name())
	r.chans.Register(m.Channels())
	return nil
}

func (r *Registry) Get(name string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[name]
	return m, ok
}

// All: менеджеры в порядке регистрации.
func (r *Registry) All() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manager, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.managers[name])
	}
	return out
}

// Channels: шины всех бирж, для потребителей, которые ищут биржу по имени.
func (r *Registry) Channels() *channels.Registry { return r.chans }

// StartAll запускает менеджеры по очереди. При ошибке уже запущенные останавливаются.
func (r *Registry) StartAll(ctx context.Context) error {
	var started []*Manager
	for _, m := range r.All() {
		if err := m.Start(ctx); err != nil {
			for _, s := range started {
				err = multierr.Append(err, s.Stop(ctx))
			}
			return err
		}
		started = append(started, m)
	}
	return nil
}

// StopAll останавливает менеджеры параллельно и снимает их с учёта.
func (r *Registry) StopAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g := new(errgroup.Group)
	for _, m := range r.All() {
		g.Go(func() error {
			err := m.Stop(ctx)
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	for _, name := range r.order {
		r.chans.Remove(name)
	}
	r.managers = make(map[string]*Manager)
	r.order = nil
	r.mu.Unlock()
	return errs
}
