package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/deevent/internal/logger"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck は依存先（セッションストアなど）の疎通を確認する関数。
type HealthCheck func(ctx context.Context) error

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler はHealthHandlerを生成する。checksのキーはログに出力する依存先名。
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health は全ての依存先が応答すれば200、いずれかが失敗すれば503を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status, body := http.StatusOK, healthResponse{Status: "ok"}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logger.FromContext(r.Context()).Warn("health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			status, body = http.StatusServiceUnavailable, healthResponse{Status: "unavailable"}
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
