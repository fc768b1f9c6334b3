package service

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	mu        sync.RWMutex
	exchanges map[string]*Exchange
}

func NewState() *State {
	s := &State{
		startedAt: time.Now(),
		exchanges: make(map[string]*Exchange),
	}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

// Exchange возвращает (создавая при первом обращении) состояние потока биржи.
func (s *State) Exchange(name string) *Exchange {
	s.mu.RLock()
	ex, ok := s.exchanges[name]
	s.mu.RUnlock()
	if ok {
		return ex
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ex, ok = s.exchanges[name]; !ok {
		ex = &Exchange{name: name}
		s.exchanges[name] = ex
	}
	return ex
}

// WSConnected: все зарегистрированные биржи на связи.
func (s *State) WSConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.exchanges) == 0 {
		return false
	}
	for _, ex := range s.exchanges {
		if !ex.WSConnected() {
			return false
		}
	}
	return true
}

// LastTick: самое свежее сообщение по всем биржам.
func (s *State) LastTick() time.Time {
	var last time.Time
	for _, st := range s.Exchanges() {
		if st.LastTick.After(last) {
			last = st.LastTick
		}
	}
	return last
}

type ExchangeStatus struct {
	Name        string
	WSConnected bool
	LastTick    time.Time
}

func (s *State) Exchanges() []ExchangeStatus {
	s.mu.RLock()
	out := make([]ExchangeStatus, 0, len(s.exchanges))
	for _, ex := range s.exchanges {
		out = append(out, ExchangeStatus{Name: ex.name, WSConnected: ex.WSConnected(), LastTick: ex.LastTick()})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Exchange: сигналы потокового коннектора одной биржи.
type Exchange struct {
	name         string
	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds
}

func (e *Exchange) SetWSConnected(v bool) { e.wsConnected.Store(v) }
func (e *Exchange) WSConnected() bool     { return e.wsConnected.Load() }

func (e *Exchange) TouchTick(t time.Time) { e.lastTickUnix.Store(t.Unix()) }
func (e *Exchange) LastTick() time.Time {
	u := e.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
