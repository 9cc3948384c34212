package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/subtrack/internal/banking"
	"github.com/hitoshi/subtrack/internal/middleware"
	"github.com/hitoshi/subtrack/internal/model"
)

// apiErrorFor はサービス層のエラーを利用者向けのAPIErrorに変換する。
// 対応するものが無い場合はnilを返す。
func apiErrorFor(err error, country string) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, banking.ErrUnsupportedCountry):
		return model.NewUnsupportedCountryError(country)
	case errors.Is(err, banking.ErrProviderNotImplemented):
		provider := ""
		var pe *banking.ProviderError
		if errors.As(err, &pe) {
			provider = pe.Provider
		}
		return model.NewProviderNotImplementedError(provider)
	case errors.Is(err, banking.ErrTokenExchangeFailed):
		return model.NewTokenExchangeFailedError()
	case errors.Is(err, banking.ErrProviderUnavailable):
		return model.NewProviderUnavailableError()
	case errors.Is(err, banking.ErrInvalidState), errors.Is(err, banking.ErrLinkSessionExpired):
		return model.NewLinkSessionInvalidError()
	case errors.Is(err, banking.ErrLinkUserMismatch):
		return model.NewLinkDeniedError()
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, country string) {
	if apiErr := apiErrorFor(err, country); apiErr != nil {
		status := middleware.StatusForCode(apiErr.Code)
		if status >= http.StatusInternalServerError {
			slog.Warn("banking provider error",
				slog.String("code", apiErr.Code),
				slog.String("error", err.Error()),
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			)
		}
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	middleware.WriteInternalServerError(w)
}

// writeUnauthenticated は未認証レスポンスを書き込む。
func writeUnauthenticated(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
}
