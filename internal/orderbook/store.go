package orderbook

import (
	"sync"

	"exchange_core/internal/models"
)

// Store: по одному Book на символ.
type Store struct {
	mu    sync.RWMutex
	books map[models.Symbol]*Book
}

func NewStore() *Store {
	return &Store{books: make(map[models.Symbol]*Book)}
}

// Book возвращает стакан символа, создавая его при первом обращении.
func (s *Store) Book(symbol models.Symbol) *Book {
	s.mu.RLock()
	b, ok := s.books[symbol]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.books[symbol]; ok {
		return b
	}
	b = NewBook(symbol)
	s.books[symbol] = b
	return b
}

func (s *Store) Get(symbol models.Symbol) (*Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[symbol]
	return b, ok
}

func (s *Store) Remove(symbol models.Symbol) {
	s.mu.Lock()
	delete(s.books, symbol)
	s.mu.Unlock()
}

func (s *Store) Symbols() []models.Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Symbol, 0, len(s.books))
	for sym := range s.books {
		out = append(out, sym)
	}
	return out
}
