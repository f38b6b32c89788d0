package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/dailyselfie/internal/capture"
	"github.com/hitoshi/dailyselfie/internal/middleware"
	"github.com/hitoshi/dailyselfie/internal/model"
)

// SelfieLedger はセルフィーハンドラーと撮影ハンドラーが必要とする記録台帳のインターフェース。
type SelfieLedger interface {
	Records() []model.DailyRecord
	Record(id string) (model.DailyRecord, error)
	TodaysRecord() (model.DailyRecord, bool)
	Stats() model.Stats
	Commit(ctx context.Context, p model.PendingCapture) (model.DailyRecord, error)
	UploadToCloud(ctx context.Context, id string) (model.DailyRecord, error)
}

// SelfieHandler はセルフィー記録の閲覧とアップロードのHTTPハンドラー。
type SelfieHandler struct {
	ledger SelfieLedger
}

// NewSelfieHandler はSelfieHandlerを生成する。
func NewSelfieHandler(ledger SelfieLedger) *SelfieHandler {
	return &SelfieHandler{ledger: ledger}
}

// selfieResponse は記録のAPIレスポンス。画像本体は含めずphotoPathから取得させる。
type selfieResponse struct {
	ID             string `json:"id"`
	Date           string `json:"date"`
	Timestamp      int64  `json:"timestamp"`
	Uploaded       bool   `json:"uploaded"`
	GooglePhotosID string `json:"googlePhotosId,omitempty"`
	PhotoPath      string `json:"photoPath"`
}

func toSelfieResponse(r model.DailyRecord) selfieResponse {
	return selfieResponse{
		ID:             r.ID,
		Date:           r.Date,
		Timestamp:      r.Timestamp,
		Uploaded:       r.Uploaded,
		GooglePhotosID: r.GooglePhotosID,
		PhotoPath:      "/api/selfies/" + r.ID + "/photo",
	}
}

type todayResponse struct {
	TakenToday bool            `json:"takenToday"`
	Record     *selfieResponse `json:"record,omitempty"`
}

// ListSelfies は記録一覧を新しい順に返す。
// GET /api/selfies
func (h *SelfieHandler) ListSelfies(w http.ResponseWriter, r *http.Request) {
	records := h.ledger.Records()
	resp := make([]selfieResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toSelfieResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Today は今日の記録の有無を返す。
// GET /api/selfies/today
func (h *SelfieHandler) Today(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ledger.TodaysRecord()
	if !ok {
		writeJSON(w, http.StatusOK, todayResponse{TakenToday: false})
		return
	}
	sr := toSelfieResponse(rec)
	writeJSON(w, http.StatusOK, todayResponse{TakenToday: true, Record: &sr})
}

// Stats はダッシュボードの集計値を返す。
// GET /api/stats
func (h *SelfieHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Stats())
}

// Photo は記録の画像をバイナリで返す。
// GET /api/selfies/{id}/photo
func (h *SelfieHandler) Photo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.ledger.Record(id)
	if err != nil {
		h.writeRecordError(w, id, err)
		return
	}

	data, mimeType, err := capture.DecodeDataURL(rec.PhotoURL)
	if err != nil {
		slog.Error("stored photo is unreadable",
			slog.String("record_id", id),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Upload は記録の画像をGoogle フォトにアップロードする。
// 同期済みの記録は何もせずそのまま返す。
// POST /api/selfies/{id}/upload
func (h *SelfieHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.ledger.UploadToCloud(r.Context(), id)
	if err != nil {
		h.writeRecordError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, toSelfieResponse(rec))
}

func (h *SelfieHandler) writeRecordError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, model.ErrRecordNotFound) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewRecordNotFoundError(id))
		return
	}
	handleServiceError(w, err)
}
