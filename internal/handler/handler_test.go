package handler

import (
	"dex-pool-sentinel/internal/sentinel"
	"dex-pool-sentinel/internal/sentinel/alert"
	"dex-pool-sentinel/internal/sentinel/types"
	"encoding/json"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeApp struct {
	ready   bool
	leader  string
	nodeErr error
	nodes   map[string]bool
	tiers   map[alert.Tier]bool
	tokens  map[string]alert.TokenStatus
}

func newFakeApp() *fakeApp {
	return &fakeApp{
		nodes:  make(map[string]bool),
		tiers:  map[alert.Tier]bool{alert.TierSniper: true, alert.TierTrade: true, alert.TierRunning: true},
		tokens: make(map[string]alert.TokenStatus),
	}
}

func (f *fakeApp) IsReady() bool                { return f.ready }
func (f *fakeApp) GetLeaderIP() (string, error) { return f.leader, nil }
func (f *fakeApp) Tiers() map[alert.Tier]bool   { return f.tiers }
func (f *fakeApp) ChainStatuses() []sentinel.ChainStatus {
	return []sentinel.ChainStatus{{Chain: "base", State: types.StateConnected}}
}

func (f *fakeApp) AddOrRemoveNode(node string, add bool) error {
	if f.nodeErr != nil {
		return f.nodeErr
	}
	f.nodes[node] = add
	return nil
}

func (f *fakeApp) SetTierEnabled(tier alert.Tier, on bool) error {
	f.tiers[tier] = on
	return nil
}

func (f *fakeApp) Inspect(id types.ChainID, token string) (alert.TokenStatus, bool) {
	st, ok := f.tokens[types.TokenKey(id, token)]
	return st, ok
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthCheckGrace(t *testing.T) {
	app := newFakeApp()
	now := time.Unix(1_700_000_000, 0)
	h := healthCheck(app, func() time.Time { return now })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DOWN", decode(t, rec)["status"])

	now = now.Add(31 * time.Second)
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["details"], "timeout exceeded")

	rec = httptest.NewRecorder()
	Readiness(app)(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	app.ready = true
	rec = httptest.NewRecorder()
	Readiness(app)(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRaftHandlers(t *testing.T) {
	app := newFakeApp()
	app.leader = "1:10.0.0.7"

	rec := httptest.NewRecorder()
	GetLeaderIP(app)(rec, httptest.NewRequest(http.MethodGet, "/raft/leader", nil))
	assert.Equal(t, "1:10.0.0.7", decode(t, rec)["leaderIP"])

	rec = httptest.NewRecorder()
	AddRaftNode(app)(rec, httptest.NewRequest(http.MethodPost, "/raft/add", strings.NewReader(`{"node":"1:10.0.0.8"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, app.nodes["1:10.0.0.8"])

	rec = httptest.NewRecorder()
	RemoveRaftNode(app)(rec, httptest.NewRequest(http.MethodPost, "/raft/remove", strings.NewReader(`{"node":"1:10.0.0.8"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, app.nodes["1:10.0.0.8"])

	rec = httptest.NewRecorder()
	AddRaftNode(app)(rec, httptest.NewRequest(http.MethodGet, "/raft/add", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	AddRaftNode(app)(rec, httptest.NewRequest(http.MethodPost, "/raft/add", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	app.nodeErr = errors.New("not leader")
	rec = httptest.NewRecorder()
	AddRaftNode(app)(rec, httptest.NewRequest(http.MethodPost, "/raft/add", strings.NewReader(`{"node":"1:10.0.0.9"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTierHandlers(t *testing.T) {
	app := newFakeApp()

	rec := httptest.NewRecorder()
	ToggleTier(app)(rec, httptest.NewRequest(http.MethodPost, "/tiers/toggle?tier=Sniper&enabled=false", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, app.tiers[alert.TierSniper])

	rec = httptest.NewRecorder()
	ListTiers(app)(rec, httptest.NewRequest(http.MethodGet, "/tiers", nil))
	tiers := decode(t, rec)["tiers"].(map[string]interface{})
	assert.Equal(t, false, tiers["sniper"])
	assert.Equal(t, true, tiers["trade"])

	for _, q := range []string{"tier=moon&enabled=true", "tier=trade&enabled=maybe", "tier=&enabled=true"} {
		rec = httptest.NewRecorder()
		ToggleTier(app)(rec, httptest.NewRequest(http.MethodPost, "/tiers/toggle?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = httptest.NewRecorder()
	ToggleTier(app)(rec, httptest.NewRequest(http.MethodGet, "/tiers/toggle?tier=trade&enabled=true", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChainHandlers(t *testing.T) {
	app := newFakeApp()
	app.tokens[types.TokenKey("base", "0xabc")] = alert.TokenStatus{Chain: "base", Token: "0xabc", BaseScore: 72}

	rec := httptest.NewRecorder()
	ListChains(app)(rec, httptest.NewRequest(http.MethodGet, "/chains", nil))
	chains := decode(t, rec)["chains"].([]interface{})
	require.Len(t, chains, 1)
	assert.Equal(t, "connected", chains[0].(map[string]interface{})["state"])

	rec = httptest.NewRecorder()
	InspectToken(app)(rec, httptest.NewRequest(http.MethodGet, "/tokens?chain=BASE&token=0xabc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 72, decode(t, rec)["base_score"])

	rec = httptest.NewRecorder()
	InspectToken(app)(rec, httptest.NewRequest(http.MethodGet, "/tokens?chain=base&token=0xdef", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	InspectToken(app)(rec, httptest.NewRequest(http.MethodGet, "/tokens?chain=base", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
