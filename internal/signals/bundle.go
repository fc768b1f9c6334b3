package signals

import (
	"exchange_core/internal/models"

	"github.com/pkg/errors"
)

// Bundle: упорядоченный набор сигналов одного прохода стратегии.
type Bundle struct {
	Exchange string
	Signals  []models.Signal
}

func (b *Bundle) Empty() bool { return b == nil || len(b.Signals) == 0 }

// provides: ключи, которые сигнал закрывает для зависимостей других сигналов.
func provides(s models.Signal) []models.Dependency {
	var out []models.Dependency
	if s.Topic == models.TopicPositions {
		out = append(out, models.Dependency{PositionSymbol: s.Content.Order.Symbol})
	}
	if id := s.Content.Order.OrderID; id != "" {
		out = append(out, models.Dependency{OrderID: id})
	}
	for _, add := range s.Content.AdditionalOrders {
		if add.Order.OrderID != "" {
			out = append(out, models.Dependency{OrderID: add.Order.OrderID})
		}
	}
	return out
}

// PublishOrder возвращает сигналы в порядке публикации: каждый сигнал идёт после тех, от которых зависит,
// при прочих равных сохраняется порядок пакета. Зависимости от сигналов вне пакета считаются выполненными.
func (b *Bundle) PublishOrder() ([]models.Signal, error) {
	if b.Empty() {
		return nil, nil
	}
	n := len(b.Signals)
	provider := make(map[models.Dependency]int, n)
	for i, s := range b.Signals {
		for _, key := range provides(s) {
			if _, ok := provider[key]; !ok {
				provider[key] = i
			}
		}
	}

	indegree := make([]int, n)
	next := make([][]int, n)
	for i, s := range b.Signals {
		seen := make(map[int]bool)
		for _, d := range s.Dependencies {
			// зависимость дочернего ордера от родителя внутри одного сигнала уже выполнена
			p, ok := provider[d]
			if !ok || p == i || seen[p] {
				continue
			}
			seen[p] = true
			next[p] = append(next[p], i)
			indegree[i]++
		}
	}

	done := make([]bool, n)
	out := make([]models.Signal, 0, n)
	for len(out) < n {
		picked := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				picked = i
				break
			}
		}
		if picked < 0 {
			var stuck []string
			for i := 0; i < n; i++ {
				if !done[i] {
					stuck = append(stuck, b.Signals[i].Content.Order.OrderID)
				}
			}
			return nil, errors.Wrapf(ErrDependencyCycle, "orders %v", stuck)
		}
		done[picked] = true
		out = append(out, b.Signals[picked])
		for _, j := range next[picked] {
			indegree[j]--
		}
	}
	return out, nil
}
