package bootstrap

import (
	"testing"

	"exchange_core/internal/modules/exchange_manager/service"
	healthsvc "exchange_core/internal/modules/health/service"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

func TestRunTogglesReadiness(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	state := healthsvc.NewState()

	Run(lc, service.NewRegistry(), state, zaptest.NewLogger(t))
	assert.False(t, state.Ready())

	lc.RequireStart()
	assert.True(t, state.Ready())

	lc.RequireStop()
	assert.False(t, state.Ready())
}
