package service

import (
	"sort"
	"sync"

	"exchange_core/internal/models"
)

// Contracts: торговые правила по символам. Читают многие, пишет менеджер биржи под блокировкой символа.
type Contracts struct {
	mu    sync.RWMutex
	items map[models.Symbol]models.Contract
	locks map[models.Symbol]*sync.Mutex
	mode  models.PositionMode
}

func NewContracts() *Contracts {
	return &Contracts{
		items: make(map[models.Symbol]models.Contract),
		locks: make(map[models.Symbol]*sync.Mutex),
	}
}

func (c *Contracts) lock(symbol models.Symbol) func() {
	c.mu.Lock()
	l, ok := c.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		c.locks[symbol] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *Contracts) Contract(symbol models.Symbol) (models.Contract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.items[symbol]
	return ct, ok
}

// Set заменяет контракт. Для фьючерсов проставляется известный режим позиций счёта.
func (c *Contracts) Set(ct models.Contract) {
	unlock := c.lock(ct.Symbol)
	defer unlock()

	c.mu.Lock()
	if ct.Symbol.IsFuture() && c.mode != "" {
		ct.PositionMode = c.mode
	}
	c.items[ct.Symbol] = ct
	c.mu.Unlock()
}

// Update меняет существующий контракт; false, если символ неизвестен.
func (c *Contracts) Update(symbol models.Symbol, fn func(ct *models.Contract)) bool {
	unlock := c.lock(symbol)
	defer unlock()

	ct, ok := c.Contract(symbol)
	if !ok {
		return false
	}
	fn(&ct)
	c.mu.Lock()
	c.items[symbol] = ct
	c.mu.Unlock()
	return true
}

// SetPositionMode запоминает режим позиций и применяет его ко всем фьючерсам.
func (c *Contracts) SetPositionMode(mode models.PositionMode) {
	c.mu.Lock()
	c.mode = mode
	var futures []models.Symbol
	for s := range c.items {
		if s.IsFuture() {
			futures = append(futures, s)
		}
	}
	c.mu.Unlock()

	for _, s := range futures {
		c.Update(s, func(ct *models.Contract) { ct.PositionMode = mode })
	}
}

func (c *Contracts) Symbols() []models.Symbol {
	c.mu.RLock()
	out := make([]models.Symbol, 0, len(c.items))
	for s := range c.items {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Contracts) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
