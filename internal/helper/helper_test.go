package helper

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoundToTick(t *testing.T) {
	v := decimal.RequireFromString("100.37")
	assert.Equal(t, "100.3", RoundDownToTick(v, 0.1).String())
	assert.Equal(t, "100.4", RoundUpToTick(v, 0.1).String())
	assert.Equal(t, "100.37", RoundDownToTick(v, 0).String())
	assert.Equal(t, "100", RoundDownToTick(v, 5).String())
	assert.Equal(t, "105", RoundUpToTick(v, 5).String())
}
