package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Commands.WithLabelValues("place", "ok").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Commands.WithLabelValues("place", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Commands.WithLabelValues("place", "ok")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.OrdersPlaced.WithLabelValues("EthForTokens").Add(2)
	m.TotalStake.Set(300)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `tradebook_orders_placed_total{swap_type="EthForTokens"} 2`))
	assert.True(t, strings.Contains(string(body), "tradebook_staking_total_stake 300"))
}
