package models

import "math"

type MarginType string

const (
	MarginCross    MarginType = "cross"
	MarginIsolated MarginType = "isolated"
)

type ContractType string

const (
	ContractLinear  ContractType = "linear"
	ContractInverse ContractType = "inverse"
)

type PositionMode string

const (
	PositionOneWay PositionMode = "one_way"
	PositionHedge  PositionMode = "hedge"
)

type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionBoth  PositionSide = "both"
)

// Contract: параметры фьючерсного инструмента, читаются многими, пишутся только менеджером биржи.
type Contract struct {
	Symbol       Symbol
	ContractSize float64
	Leverage     float64
	MarginType   MarginType
	ContractType ContractType
	PositionMode PositionMode

	TickSize float64
	LotSize  float64
	MinSize  float64
}

type Position struct {
	Symbol           Symbol
	Side             PositionSide
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	UnrealizedPnl    float64
	RealizedPnl      float64
	MarginType       MarginType
	Leverage         float64
	Mode             PositionMode
	Timestamp        float64
}

// Idle: позиция без объёма, денежные поля обнулены, цена ликвидации NaN.
func (p Position) Idle() bool { return p.Size == 0 }

func (p Position) Record() Record {
	r := Record{
		KeyNormalized:    true,
		KeySymbol:        string(p.Symbol),
		KeySide:          string(p.Side),
		KeyContracts:     p.Size,
		KeyEntryPrice:    p.EntryPrice,
		KeyMarkPrice:     p.MarkPrice,
		KeyUnrealizedPnl: p.UnrealizedPnl,
		KeyRealizedPnl:   p.RealizedPnl,
		KeyMarginType:    string(p.MarginType),
		KeyLeverage:      p.Leverage,
		KeyPositionMode:  string(p.Mode),
		KeyTimestamp:     p.Timestamp,
	}
	if !math.IsNaN(p.LiquidationPrice) {
		r[KeyLiquidationPrice] = p.LiquidationPrice
	}
	return r
}
