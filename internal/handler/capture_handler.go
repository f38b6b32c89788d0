package handler

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/hitoshi/dailyselfie/internal/capture"
	"github.com/hitoshi/dailyselfie/internal/middleware"
	"github.com/hitoshi/dailyselfie/internal/model"
)

// FrameSink はブラウザから届いたフレームと権限状態を受け取るカメラ。
type FrameSink interface {
	Submit(frame image.Image)
	Deny()
	Grant()
}

// CaptureFlow は撮影フローのインターフェース。
type CaptureFlow interface {
	Start(ctx context.Context) error
	Retry(ctx context.Context) error
	Capture() (model.PendingCapture, error)
	Stop()
}

// PendingCaptures はユーザーごとの確認待ち撮影画像を保持する。
type PendingCaptures interface {
	Put(userID string, p model.PendingCapture)
	Get(userID string) (model.PendingCapture, bool)
	Discard(userID string)
}

// CaptureHandler は撮影・確認・保存・破棄のHTTPハンドラー。
type CaptureHandler struct {
	camera       FrameSink
	flow         CaptureFlow
	pending      PendingCaptures
	ledger       SelfieLedger
	maxFrameSize int64

	// 1台のカメラを共有するため撮影は同時に1つずつ行う
	mu sync.Mutex
}

// NewCaptureHandler はCaptureHandlerを生成する。
func NewCaptureHandler(
	camera FrameSink,
	flow CaptureFlow,
	pending PendingCaptures,
	ledger SelfieLedger,
	maxFrameSize int64,
) *CaptureHandler {
	return &CaptureHandler{
		camera:       camera,
		flow:         flow,
		pending:      pending,
		ledger:       ledger,
		maxFrameSize: maxFrameSize,
	}
}

// captureRequest はブラウザから送られる撮影リクエスト。
type captureRequest struct {
	// Frame はカメラ映像の現在フレーム（data URL）。
	Frame string `json:"frame"`
	// PermissionDenied はブラウザでカメラの権限が拒否されたことを示す。
	PermissionDenied bool `json:"permissionDenied"`
	// Retry は権限拒否の後に再試行することを示す。
	Retry bool `json:"retry"`
}

type pendingResponse struct {
	Date      string `json:"date"`
	Timestamp int64  `json:"timestamp"`
	PhotoURL  string `json:"photoUrl"`
}

func toPendingResponse(p model.PendingCapture) pendingResponse {
	return pendingResponse{
		Date:      p.Date,
		Timestamp: p.Timestamp,
		PhotoURL:  p.PhotoURL,
	}
}

// Capture はフレームから撮影画像を作り、確認待ちとして保持する。
// POST /api/captures
func (h *CaptureHandler) Capture(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxFrameSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handleServiceError(w, model.NewInvalidFrameError("画像サイズが大きすぎます"))
			return
		}
		handleServiceError(w, model.NewInvalidRequestError("リクエストボディを読み取れません"))
		return
	}

	var req captureRequest
	if err := json.Unmarshal(body, &req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if req.PermissionDenied {
		h.camera.Deny()
		h.flow.Stop()
		err := h.flow.Start(r.Context())
		if err == nil {
			// 拒否したカメラで開けることはないが、開いた場合は解放する
			h.flow.Stop()
			err = capture.ErrCameraPermission
		}
		handleServiceError(w, err)
		return
	}

	frame, err := capture.DecodeFrame([]byte(req.Frame))
	if err != nil {
		handleServiceError(w, model.NewInvalidFrameError(err.Error()))
		return
	}

	if req.Retry {
		h.camera.Grant()
		err = h.flow.Retry(r.Context())
	} else {
		err = h.flow.Start(r.Context())
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer h.flow.Stop()

	h.camera.Submit(frame)
	p, err := h.flow.Capture()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.pending.Put(userID, p)
	slog.Info("selfie captured", slog.String("user_id", userID))
	writeJSON(w, http.StatusCreated, toPendingResponse(p))
}

// Pending は確認待ちの撮影画像を返す。
// GET /api/captures/pending
func (h *CaptureHandler) Pending(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	p, ok := h.pending.Get(userID)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNoPendingCaptureError())
		return
	}
	writeJSON(w, http.StatusOK, toPendingResponse(p))
}

// Save は確認待ちの撮影画像を今日の記録として確定する。
// 保存に失敗した場合は確認待ちのまま残し、当日撮影済みの場合は破棄する。
// POST /api/captures/pending/save
func (h *CaptureHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	p, ok := h.pending.Get(userID)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNoPendingCaptureError())
		return
	}

	rec, err := h.ledger.Commit(r.Context(), p)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyCapturedToday) {
			h.pending.Discard(userID)
		} else {
			slog.Error("failed to commit selfie",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		handleServiceError(w, err)
		return
	}

	h.pending.Discard(userID)
	writeJSON(w, http.StatusCreated, toSelfieResponse(rec))
}

// Discard は確認待ちの撮影画像を破棄する。撮り直しに使う。
// DELETE /api/captures/pending
func (h *CaptureHandler) Discard(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	h.pending.Discard(userID)
	w.WriteHeader(http.StatusNoContent)
}
