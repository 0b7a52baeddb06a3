package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/deevent/internal/apiclient"
	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/model"
)

// renderUpstreamError はAPI呼び出しの失敗をエラーページとして描画する。
// orgIDが指定されている場合、404は組織が見つからないエラーになる。
//
//   - 401: セッション切れ
//   - 404: リソースなし
//   - その他のAPIエラー: 502
//   - APIエラー以外: 500
func (rd *Renderer) renderUpstreamError(w http.ResponseWriter, r *http.Request, err error, orgID string) {
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		logger.FromContext(r.Context()).Error("request failed", slog.String("error", err.Error()))
		rd.RenderError(w, r, http.StatusInternalServerError, model.NewInternalError(), true)
		return
	}

	switch {
	case apiclient.IsUnauthorized(err):
		rd.RenderError(w, r, http.StatusUnauthorized, model.NewSessionExpiredError(), true)
	case apiclient.IsNotFound(err):
		notFound := model.NewNotFoundError()
		if orgID != "" {
			notFound = model.NewOrganizationNotFoundError(orgID)
		}
		rd.RenderError(w, r, http.StatusNotFound, notFound, true)
	default:
		logger.FromContext(r.Context()).Warn("upstream call failed",
			slog.String("kind", apiErr.Kind.String()),
			slog.Int("status", apiErr.StatusCode),
		)
		rd.RenderError(w, r, http.StatusBadGateway, model.NewUpstreamUnavailableError(), true)
	}
}
