package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/hitoshi/dailyselfie/internal/auth"
	"github.com/hitoshi/dailyselfie/internal/middleware"
	"github.com/hitoshi/dailyselfie/internal/model"
)

// --- モック定義 ---

type mockSessionService struct {
	state              auth.State
	user               *model.UserSession
	signInFn           func(ctx context.Context) (string, error)
	completeCallbackFn func(ctx context.Context, rawURL string) (*model.UserSession, string, error)
	signOutCalls       int
}

func (m *mockSessionService) State() auth.State { return m.state }

func (m *mockSessionService) Current() *model.UserSession { return m.user }

func (m *mockSessionService) SignIn(ctx context.Context) (string, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx)
	}
	return "", nil
}

func (m *mockSessionService) CompleteCallback(ctx context.Context, rawURL string) (*model.UserSession, string, error) {
	if m.completeCallbackFn != nil {
		return m.completeCallbackFn(ctx, rawURL)
	}
	return nil, "", nil
}

func (m *mockSessionService) SignOut(ctx context.Context) {
	m.signOutCalls++
	m.user = nil
}

type mockAvatarSource struct {
	fetchFn func(ctx context.Context, rawURL string) ([]byte, string, error)
}

func (m *mockAvatarSource) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, rawURL)
	}
	return nil, "", nil
}

type mockLedger struct {
	records  []model.DailyRecord
	stats    model.Stats
	commitFn func(ctx context.Context, p model.PendingCapture) (model.DailyRecord, error)
	uploadFn func(ctx context.Context, id string) (model.DailyRecord, error)
}

func (m *mockLedger) Records() []model.DailyRecord { return m.records }

func (m *mockLedger) Record(id string) (model.DailyRecord, error) {
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return model.DailyRecord{}, model.ErrRecordNotFound
}

func (m *mockLedger) TodaysRecord() (model.DailyRecord, bool) {
	if m.stats.TakenToday && len(m.records) > 0 {
		return m.records[0], true
	}
	return model.DailyRecord{}, false
}

func (m *mockLedger) Stats() model.Stats { return m.stats }

func (m *mockLedger) Commit(ctx context.Context, p model.PendingCapture) (model.DailyRecord, error) {
	if m.commitFn != nil {
		return m.commitFn(ctx, p)
	}
	return model.DailyRecord{}, nil
}

func (m *mockLedger) UploadToCloud(ctx context.Context, id string) (model.DailyRecord, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, id)
	}
	return model.DailyRecord{}, nil
}

// --- ヘルパー ---

func signedInUser() *model.UserSession {
	return &model.UserSession{
		ID:          "user-1",
		Email:       "alice@example.com",
		Name:        "Alice Smith",
		Picture:     "https://lh3.googleusercontent.com/a/photo.jpg",
		AccessToken: "token-1",
	}
}

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withUser はセッションミドルウェアを通過した状態のリクエストを作る。
func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// pngDataURL は単色のPNG画像をdata URLにして返す。
func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp middleware.ErrorResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to decode error body %q: %v", body, err)
	}
	return resp.Code
}
