package service

import (
	"context"
	"net/http"

	"exchange_core/internal/exchange/okx"
	"exchange_core/internal/models"
)

const (
	pathPositions     = "/api/v5/account/positions"
	pathBalance       = "/api/v5/account/balance"
	pathAccountConfig = "/api/v5/account/config"
)

// Positions: открытые позиции счёта.
func (c *Client) Positions(ctx context.Context) ([]models.Position, error) {
	data, err := c.do(ctx, http.MethodGet, pathPositions, nil, nil, true)
	if err != nil {
		return nil, err
	}
	objs, err := decodeObjects(data, "positions")
	if err != nil {
		return nil, err
	}
	out := make([]models.Position, 0, len(objs))
	for _, o := range objs {
		out = append(out, c.norm.Position(okx.PositionRecord(o)))
	}
	return out, nil
}

func (c *Client) Balance(ctx context.Context) (models.Balance, error) {
	data, err := c.do(ctx, http.MethodGet, pathBalance, nil, nil, true)
	if err != nil {
		return nil, err
	}
	objs, err := decodeObjects(data, "balance")
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return models.Balance{}, nil
	}
	return c.norm.ParseBalance(okx.BalanceRecords(objs[0])), nil
}

// PositionMode: long_short_mode -> hedge, иначе one_way.
func (c *Client) PositionMode(ctx context.Context) (models.PositionMode, error) {
	data, err := c.do(ctx, http.MethodGet, pathAccountConfig, nil, nil, true)
	if err != nil {
		return "", err
	}
	objs, err := decodeObjects(data, "account config")
	if err != nil {
		return "", err
	}
	if len(objs) > 0 {
		if mode, _ := objs[0]["posMode"].(string); mode == "long_short_mode" {
			return models.PositionHedge, nil
		}
	}
	return models.PositionOneWay, nil
}
