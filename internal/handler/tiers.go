package handler

import (
	"dex-pool-sentinel/internal/sentinel/alert"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// TierAdmin 由 sentinel.App 实现
type TierAdmin interface {
	Tiers() map[alert.Tier]bool
	SetTierEnabled(tier alert.Tier, on bool) error
}

// ListTiers GET /tiers
func ListTiers(app TierAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tiers": app.Tiers()})
	}
}

// ToggleTier POST /tiers/toggle?tier=sniper&enabled=false
// 只影响新告警，已发出的告警与冷却记录保持不变
func ToggleTier(app TierAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if r := recover(); r != nil {
				http.Error(w, fmt.Sprintf("Internal server error: %v", r), http.StatusInternalServerError)
			}
		}()

		if r.Method != http.MethodPost {
			http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		tier, err := alert.ParseTier(strings.ToLower(q.Get("tier")))
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid tier %q", q.Get("tier")), http.StatusBadRequest)
			return
		}
		on, err := strconv.ParseBool(q.Get("enabled"))
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid enabled %q", q.Get("enabled")), http.StatusBadRequest)
			return
		}

		if err = app.SetTierEnabled(tier, on); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, alert.ErrUnknownTier) {
				status = http.StatusBadRequest
			}
			http.Error(w, fmt.Sprintf("Error: %v", err), status)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "success",
			"tier":    tier,
			"enabled": on,
		})
	}
}
