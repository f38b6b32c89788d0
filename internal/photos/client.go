// Package photos はGoogle Photos Library APIのクライアントを提供する。
// アルバムの検索・作成、画像のアップロード、メディアアイテムの作成とアルバムへの追加を行う。
package photos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/hitoshi/dailyselfie/internal/model"
)

const (
	// defaultBaseURL はPhotos Library APIのベースURL。
	defaultBaseURL = "https://photoslibrary.googleapis.com/v1"

	// AlbumTitle はセルフィーを保存するアルバム名。
	AlbumTitle = "Daily Selfies"
	// legacyAlbumTitle は旧バージョンで作成されたアルバム名。
	legacyAlbumTitle = "selfies"

	// maxErrorBodySize はエラーレスポンスから読み取る最大バイト数。
	maxErrorBodySize = 4 << 10
)

// Album はアルバムを表す。
type Album struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Client はPhotos Library APIのクライアント。
// アクセストークンは呼び出しごとに渡す。自動リトライは行わない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultBaseURL,
	}
}

// WithBaseURL はベースURLを差し替えたClientを返す。
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := *c
	cp.baseURL = strings.TrimRight(baseURL, "/")
	return &cp
}

// ListAlbums はユーザーのアルバム一覧を取得する。
func (c *Client) ListAlbums(ctx context.Context, accessToken string) ([]Album, error) {
	var albums []Album
	pageToken := ""
	for {
		endpoint := c.baseURL + "/albums?pageSize=50"
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var resp struct {
			Albums        []Album `json:"albums"`
			NextPageToken string  `json:"nextPageToken"`
		}
		if err := c.doJSON(ctx, http.MethodGet, endpoint, accessToken, nil, &resp); err != nil {
			return nil, fmt.Errorf("アルバム一覧の取得に失敗しました: %w", err)
		}
		albums = append(albums, resp.Albums...)

		if resp.NextPageToken == "" {
			return albums, nil
		}
		pageToken = resp.NextPageToken
	}
}

// CreateAlbum は指定タイトルのアルバムを作成し、そのIDを返す。
func (c *Client) CreateAlbum(ctx context.Context, accessToken, title string) (string, error) {
	body := map[string]any{
		"album": map[string]string{"title": title},
	}
	var album Album
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/albums", accessToken, body, &album); err != nil {
		return "", fmt.Errorf("アルバムの作成に失敗しました: %w", err)
	}
	if album.ID == "" {
		return "", fmt.Errorf("%w: album id missing in response", model.ErrUpload)
	}
	return album.ID, nil
}

// FindOrCreateAlbum はセルフィー用アルバムを探し、無ければ作成する。
// 旧バージョンのアルバム名も受け付ける。
// 一覧の取得に失敗した場合はアルバムを作成せずにエラーを返す。
func (c *Client) FindOrCreateAlbum(ctx context.Context, accessToken string) (string, error) {
	albums, err := c.ListAlbums(ctx, accessToken)
	if err != nil {
		return "", err
	}
	for _, a := range albums {
		if a.Title == AlbumTitle || a.Title == legacyAlbumTitle {
			return a.ID, nil
		}
	}
	return c.CreateAlbum(ctx, accessToken, AlbumTitle)
}

// Upload は画像のバイト列をアップロードし、アップロードトークンを返す。
func (c *Client) Upload(ctx context.Context, accessToken string, data []byte, mimeType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Goog-Upload-Content-Type", mimeType)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("画像のアップロードに失敗しました", slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %v", model.ErrUpload, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		c.logger.Error("アップロードAPIがエラーステータスを返しました", slog.Int("http_status", resp.StatusCode))
		return "", err
	}

	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read upload token: %v", model.ErrUpload, err)
	}
	if len(bytes.TrimSpace(token)) == 0 {
		return "", fmt.Errorf("%w: empty upload token", model.ErrUpload)
	}
	return string(bytes.TrimSpace(token)), nil
}

// CreateMediaItem はアップロードトークンからメディアアイテムを作成し、そのIDを返す。
func (c *Client) CreateMediaItem(ctx context.Context, accessToken, uploadToken, description, fileName string) (string, error) {
	body := map[string]any{
		"newMediaItems": []map[string]any{
			{
				"description": description,
				"simpleMediaItem": map[string]string{
					"fileName":    fileName,
					"uploadToken": uploadToken,
				},
			},
		},
	}

	var resp struct {
		NewMediaItemResults []struct {
			Status struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"status"`
			MediaItem struct {
				ID string `json:"id"`
			} `json:"mediaItem"`
		} `json:"newMediaItemResults"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/mediaItems:batchCreate", accessToken, body, &resp); err != nil {
		return "", fmt.Errorf("メディアアイテムの作成に失敗しました: %w", err)
	}

	if len(resp.NewMediaItemResults) == 0 {
		return "", fmt.Errorf("%w: no media item result", model.ErrUpload)
	}
	result := resp.NewMediaItemResults[0]
	if result.MediaItem.ID == "" {
		return "", fmt.Errorf("%w: media item not created: %s", model.ErrUpload, result.Status.Message)
	}
	return result.MediaItem.ID, nil
}

// AddToAlbum はメディアアイテムをアルバムに追加する。
func (c *Client) AddToAlbum(ctx context.Context, accessToken, albumID string, mediaItemIDs []string) error {
	body := map[string]any{"mediaItemIds": mediaItemIDs}
	endpoint := c.baseURL + "/albums/" + url.PathEscape(albumID) + ":batchAddMediaItems"
	if err := c.doJSON(ctx, http.MethodPost, endpoint, accessToken, body, nil); err != nil {
		return fmt.Errorf("アルバムへの追加に失敗しました: %w", err)
	}
	return nil
}

// doJSON はJSONリクエストを送信し、レスポンスをoutにデコードする。outがnilならボディは読み捨てる。
func (c *Client) doJSON(ctx context.Context, method, endpoint, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Photos APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", model.ErrUpload, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		c.logger.Error("Photos APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
		)
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", model.ErrUpload, err)
	}
	return nil
}

// StatusError はPhotos APIが2xx以外を返したことを表す。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("photos api returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap はErrUploadとして判定できるようにする。
func (e *StatusError) Unwrap() error {
	return model.ErrUpload
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
