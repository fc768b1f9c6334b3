// Package orders ведёт жизненный цикл ордеров: создание, отмена, обновление с биржи, группы и связанные ордера.
package orders

import "exchange_core/internal/models"

type State int

const (
	// StateInactive: ордер с активным триггером ждёт цену и на биржу не отправлен.
	StateInactive State = iota
	// StatePendingCreationChained: ждёт исполнения родительского ордера.
	StatePendingCreationChained
	StatePendingCreation
	StateOpen
	StatePartiallyFilled
	StateCanceling
	StateFilled
	StateCanceled
	StateClosed
)

var stateNames = map[State]string{
	StateInactive:               "inactive",
	StatePendingCreationChained: "pending_creation_chained",
	StatePendingCreation:        "pending_creation",
	StateOpen:                   "open",
	StatePartiallyFilled:        "partially_filled",
	StateCanceling:              "canceling",
	StateFilled:                 "filled",
	StateCanceled:               "canceled",
	StateClosed:                 "closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// rank: порядок состояний в автомате; обновление применяется, только если ранг растёт.
func (s State) rank() int {
	switch s {
	case StateInactive, StatePendingCreationChained:
		return 0
	case StatePendingCreation:
		return 1
	case StateOpen:
		return 2
	case StatePartiallyFilled:
		return 3
	case StateCanceling:
		return 4
	case StateFilled, StateCanceled:
		return 5
	case StateClosed:
		return 6
	}
	return -1
}

func (s State) Terminal() bool {
	return s == StateFilled || s == StateCanceled || s == StateClosed
}

// Submitted: ордер уже есть на бирже.
func (s State) Submitted() bool {
	return s != StateInactive && s != StatePendingCreationChained && s != StatePendingCreation
}

// settled: состояния, о которых сообщается в канал ORDERS.
func (s State) settled() bool {
	switch s {
	case StateOpen, StatePartiallyFilled, StateFilled, StateCanceled, StateClosed:
		return true
	}
	return false
}

func (s State) status() models.OrderStatus {
	switch s {
	case StatePendingCreation, StatePendingCreationChained, StateInactive:
		return models.StatusPendingCreation
	case StateOpen:
		return models.StatusOpen
	case StatePartiallyFilled:
		return models.StatusPartiallyFilled
	case StateCanceling:
		return models.StatusPendingCancel
	case StateFilled:
		return models.StatusFilled
	case StateCanceled:
		return models.StatusCanceled
	case StateClosed:
		return models.StatusClosed
	}
	return ""
}

// stateOf переводит статус биржи в состояние автомата.
func stateOf(st models.OrderStatus) (State, bool) {
	switch st {
	case models.StatusOpen:
		return StateOpen, true
	case models.StatusPartiallyFilled:
		return StatePartiallyFilled, true
	case models.StatusFilled:
		return StateFilled, true
	case models.StatusCanceled, models.StatusExpired, models.StatusRejected:
		return StateCanceled, true
	case models.StatusClosed:
		return StateClosed, true
	case models.StatusPendingCancel:
		return StateCanceling, true
	case models.StatusPendingCreation:
		return StatePendingCreation, true
	}
	return 0, false
}
