package service

import "encoding/json"

// envelope: общий конверт ответов OKX v5.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// itemResult: построчный результат торговых запросов.
type itemResult struct {
	OrdID   string `json:"ordId"`
	AlgoID  string `json:"algoId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type Instrument struct {
	InstID   string `json:"instId"`
	TickSz   string `json:"tickSz"`
	LotSz    string `json:"lotSz"`
	MinSz    string `json:"minSz"`
	CtVal    string `json:"ctVal"`
	CtMult   string `json:"ctMult"`
	State    string `json:"state"`
	MaxMktSz string `json:"maxMktSz"`
	Lever    string `json:"lever"`

	CtType    string `json:"ctType"`    // linear / inverse
	SettleCcy string `json:"settleCcy"` // USDT или монета
	CtValCcy  string `json:"ctValCcy"`
}
