package handler

import (
	"dex-pool-sentinel/internal/sentinel"
	"dex-pool-sentinel/internal/sentinel/alert"
	"dex-pool-sentinel/internal/sentinel/types"
	"net/http"
	"strings"
)

// ChainInspector 由 sentinel.App 实现
type ChainInspector interface {
	ChainStatuses() []sentinel.ChainStatus
	Inspect(id types.ChainID, token string) (alert.TokenStatus, bool)
}

// ListChains GET /chains 各链连接、热度、预算与停滞状态
func ListChains(app ChainInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"chains": app.ChainStatuses()})
	}
}

// InspectToken GET /tokens?chain=base&token=0x...
func InspectToken(app ChainInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		chain := types.ChainID(strings.ToLower(strings.TrimSpace(q.Get("chain"))))
		token := strings.TrimSpace(q.Get("token"))
		if chain == "" || token == "" {
			http.Error(w, "chain and token are required", http.StatusBadRequest)
			return
		}

		st, ok := app.Inspect(chain, token)
		if !ok {
			http.Error(w, "token is not tracked", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
