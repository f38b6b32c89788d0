package handler

import (
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/hitoshi/dailyselfie/internal/auth"
	"github.com/hitoshi/dailyselfie/internal/capture"
	"github.com/hitoshi/dailyselfie/internal/middleware"
	"github.com/hitoshi/dailyselfie/internal/model"
)

// handleServiceError はドメイン層から返されたエラーを統一エラーフォーマットのレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	switch {
	case errors.Is(err, model.ErrConfiguration):
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewConfigurationError())
	case errors.Is(err, auth.ErrInvalidCallback):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCallbackError())
	case errors.Is(err, model.ErrAuth):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthFailedError())
	case errors.Is(err, model.ErrNoSession):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case errors.Is(err, model.ErrAlreadyCapturedToday):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewAlreadyCapturedTodayError())
	case errors.Is(err, model.ErrRecordNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewRecordNotFoundError(""))
	case errors.Is(err, model.ErrUploadInProgress):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewUploadInProgressError())
	case errors.Is(err, model.ErrNoPendingCapture):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNoPendingCaptureError())
	case errors.Is(err, model.ErrUpload):
		slog.Warn("upload failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUploadFailedError())
	case errors.Is(err, capture.ErrCameraPermission):
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewCameraUnavailableError())
	case errors.Is(err, model.ErrCamera):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewCameraUnavailableError())
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidFrame, model.ErrCodeInvalidCallback:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case model.ErrCodeRecordNotFound, model.ErrCodeNoPendingCapture:
		return http.StatusNotFound
	case model.ErrCodeAlreadyCapturedToday, model.ErrCodeUploadInProgress:
		return http.StatusConflict
	case model.ErrCodeUploadFailed, model.ErrCodeAvatarUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
