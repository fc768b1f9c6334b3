package channels

import (
	"sync"

	"go.uber.org/zap"
)

// Channels: все каналы одной биржи.
type Channels struct {
	exchange string
	sync     bool
	log      *zap.Logger

	mu       sync.Mutex
	channels map[Name]*Channel
	stopped  bool
}

// New создаёт набор каналов биржи. synchronous включает режим бэктеста:
// доставка идёт на вызывающей горутине без проверок отмены контекста производителя.
func New(exchange string, synchronous bool, log *zap.Logger) *Channels {
	return &Channels{
		exchange: exchange,
		sync:     synchronous,
		log:      log.Named("channels").With(zap.String("exchange", exchange)),
		channels: make(map[Name]*Channel),
	}
}

func (cs *Channels) Exchange() string { return cs.exchange }

// Get возвращает канал, создавая его при первом обращении. После Stop отдаёт закрытый канал.
func (cs *Channels) Get(name Name) *Channel {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	ch, ok := cs.channels[name]
	if !ok {
		ch = newChannel(name, cs.exchange, cs.sync, cs.log)
		if cs.stopped {
			ch.Stop()
		}
		cs.channels[name] = ch
	}
	return ch
}

func (cs *Channels) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.stopped = true
	for _, ch := range cs.channels {
		ch.Stop()
	}
}

// Registry: процессная карта exchangeID -> Channels.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Channels
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Channels)}
}

func (r *Registry) Register(cs *Channels) {
	r.mu.Lock()
	r.byName[cs.exchange] = cs
	r.mu.Unlock()
}

func (r *Registry) Get(exchange string) (*Channels, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.byName[exchange]
	return cs, ok
}

// Remove останавливает и удаляет каналы биржи.
func (r *Registry) Remove(exchange string) {
	r.mu.Lock()
	cs, ok := r.byName[exchange]
	delete(r.byName, exchange)
	r.mu.Unlock()
	if ok {
		cs.Stop()
	}
}
