package security

import (
	"context"
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/sentinel/types"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RPS = 0
	cfg.Timeout = time.Second
	cfg.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1}
	return cfg
}

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestAuditDecodesAndCaches(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/token_security", r.URL.Path)
		assert.Equal(t, "base", r.URL.Query().Get("chain"))
		_, _ = w.Write([]byte(`{"code":0,"data":{"risk_score":20,"risks":["Proxy Contract"],"renounced":true,"top10_holders_percent":35.5}}`))
	})
	c, err := NewClient(testConfig(), StaticResolver(srv.URL+"/"), srv.Client())
	require.NoError(t, err)

	r, err := c.Audit(context.Background(), "base", "0xAbC")
	require.NoError(t, err)
	assert.Equal(t, types.RiskLow, r.RiskLevel, "level derived from score")
	assert.True(t, r.Renounced)
	assert.Equal(t, 35.5, r.Top10HoldersPercent)
	assert.Equal(t, []string{"Proxy Contract"}, r.Risks)

	r.Risks[0] = "mutated"
	again, err := c.Audit(context.Background(), "base", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "Proxy Contract", again.Risks[0], "cached reports are copied")
	assert.Equal(t, int32(1), hits.Load())
}

func TestAuditRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"risk_score":75}}`))
	})
	c, err := NewClient(testConfig(), StaticResolver(srv.URL), srv.Client())
	require.NoError(t, err)

	r, err := c.Audit(context.Background(), "base", "0x1")
	require.NoError(t, err)
	assert.Equal(t, types.RiskHigh, r.RiskLevel)
	assert.Equal(t, int32(3), hits.Load())
}

func TestAuditUnknownTokenIsPermanent(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	cfg := testConfig()
	cfg.TripAfter = 1
	c, err := NewClient(cfg, StaticResolver(srv.URL), srv.Client())
	require.NoError(t, err)

	_, err = c.Audit(context.Background(), "base", "0x1")
	assert.ErrorIs(t, err, ErrTokenUnknown)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, gobreaker.StateClosed, c.State(), "unknown tokens do not trip the breaker")
}

func TestAuditCircuitOpens(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	cfg := testConfig()
	cfg.Retry = retry.NoRetry
	cfg.TripAfter = 2
	c, err := NewClient(cfg, StaticResolver(srv.URL), srv.Client())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.Audit(context.Background(), "base", "0x1")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	_, err = c.Audit(context.Background(), "base", "0x1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestStaticResolver(t *testing.T) {
	_, err := StaticResolver("").BaseURL()
	assert.ErrorIs(t, err, ErrNoEndpoint)

	u, err := StaticResolver("http://audit:8080/").BaseURL()
	require.NoError(t, err)
	assert.Equal(t, "http://audit:8080", u)

	_, err = NewClient(DefaultConfig(), nil, nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)
}
