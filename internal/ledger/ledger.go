// Package ledger はユーザーごとのセルフィー記録を管理する。
// 記録の確定・集計・Google Photosへのアップロードを担う。
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/dailyselfie/internal/capture"
	"github.com/hitoshi/dailyselfie/internal/model"
	"github.com/hitoshi/dailyselfie/internal/repository"
)

// TokenSource は現在のセッションのアクセストークンを提供する。
type TokenSource interface {
	AccessToken() (string, bool)
}

// PhotoUploader はPhotos Library APIへのアップロード手順を提供する。
type PhotoUploader interface {
	FindOrCreateAlbum(ctx context.Context, accessToken string) (string, error)
	Upload(ctx context.Context, accessToken string, data []byte, mimeType string) (string, error)
	CreateMediaItem(ctx context.Context, accessToken, uploadToken, description, fileName string) (string, error)
	AddToAlbum(ctx context.Context, accessToken, albumID string, mediaItemIDs []string) error
}

// MetricsRecorder は記録とアップロードの結果を記録する。
type MetricsRecorder interface {
	RecordCapture()
	RecordUpload(success bool, duration time.Duration)
	RecordAlbumFailure()
}

// Options はLedgerの設定。
type Options struct {
	Location  *time.Location
	WeekStart time.Weekday
	Now       func() time.Time
	Metrics   MetricsRecorder
}

// Ledger はサインイン中のユーザーの記録一覧をメモリ上に保持し、変更のたびに永続化する。
type Ledger struct {
	repo     repository.RecordRepository
	tokens   TokenSource
	uploader PhotoUploader
	metrics  MetricsRecorder

	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time

	mu       sync.RWMutex
	userID   string
	records  []model.DailyRecord
	inflight map[string]struct{}
}

// New はLedgerを生成する。
func New(repo repository.RecordRepository, tokens TokenSource, uploader PhotoUploader, opts Options) *Ledger {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		repo:      repo,
		tokens:    tokens,
		uploader:  uploader,
		metrics:   opts.Metrics,
		loc:       opts.Location,
		weekStart: opts.WeekStart,
		now:       opts.Now,
		records:   []model.DailyRecord{},
		inflight:  make(map[string]struct{}),
	}
}

// SessionChanged はセッションの変化に合わせて記録一覧を読み込み直す。
func (l *Ledger) SessionChanged(ctx context.Context, user *model.UserSession) {
	userID := ""
	if user != nil {
		userID = user.ID
	}
	if err := l.LoadForUser(ctx, userID); err != nil {
		slog.Error("failed to load records", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

// LoadForUser はメモリ上の記録一覧を指定ユーザーの保存内容で置き換える。
// userIDが空の場合は一覧を空にする。読み込みに失敗した場合も前のユーザーの記録は残さない。
func (l *Ledger) LoadForUser(ctx context.Context, userID string) error {
	if userID == "" {
		l.mu.Lock()
		l.userID = ""
		l.records = []model.DailyRecord{}
		l.mu.Unlock()
		return nil
	}

	records, err := l.repo.LoadRecords(ctx, userID)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.userID = userID
	if err != nil {
		l.records = []model.DailyRecord{}
		return err
	}
	l.records = records
	return nil
}

// UserID は読み込み中のユーザーIDを返す。
func (l *Ledger) UserID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.userID
}

// Commit は確認済みの撮影画像を記録として確定し、一覧全体を保存する。
// 今日の記録が既にある場合はErrAlreadyCapturedTodayを返す。
func (l *Ledger) Commit(ctx context.Context, p model.PendingCapture) (model.DailyRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.userID == "" {
		return model.DailyRecord{}, model.ErrNoSession
	}
	if existing, ok := TodaysRecord(l.records, l.now(), l.loc); ok {
		return existing, model.ErrAlreadyCapturedToday
	}
	// 日付をまたいで保存された場合も撮影日に記録があれば受け付けない
	if existing, ok := TodaysRecord(l.records, p.Time(), l.loc); ok {
		return existing, model.ErrAlreadyCapturedToday
	}

	record := model.DailyRecord{
		ID:        uuid.NewString(),
		Date:      p.Date,
		Timestamp: p.Timestamp,
		PhotoURL:  p.PhotoURL,
	}

	updated := make([]model.DailyRecord, 0, len(l.records)+1)
	updated = append(updated, record)
	updated = append(updated, l.records...)

	if err := l.repo.SaveRecords(ctx, l.userID, updated); err != nil {
		return model.DailyRecord{}, err
	}
	l.records = updated

	slog.Info("selfie committed", slog.String("user_id", l.userID), slog.String("record_id", record.ID))
	if l.metrics != nil {
		l.metrics.RecordCapture()
	}
	return record, nil
}

// Records は記録一覧のコピーを新しい順に返す。
func (l *Ledger) Records() []model.DailyRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.DailyRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Record は指定IDの記録を返す。
func (l *Ledger) Record(id string) (model.DailyRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := indexOf(l.records, id); i >= 0 {
		return l.records[i], nil
	}
	return model.DailyRecord{}, model.ErrRecordNotFound
}

// TodaysRecord は今日の記録を返す。
func (l *Ledger) TodaysRecord() (model.DailyRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return TodaysRecord(l.records, l.now(), l.loc)
}

// Streak は連続撮影日数を返す。
func (l *Ledger) Streak() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Streak(l.records, l.now(), l.loc)
}

// WeeklyCount は今週の撮影枚数を返す。
func (l *Ledger) WeeklyCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return WeeklyCount(l.records, l.now(), l.loc, l.weekStart)
}

// Total は累計枚数を返す。
func (l *Ledger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Level は累計枚数に応じたレベルを返す。
func (l *Ledger) Level() int {
	return Level(l.Total())
}

// Stats はダッシュボード用の集計値を返す。
func (l *Ledger) Stats() model.Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ComputeStats(l.records, l.now(), l.loc, l.weekStart)
}

// UploadToCloud は記録の画像をGoogle Photosにアップロードし、同期済みにする。
//
// メディアアイテムの作成に成功した場合のみ同期済みとして保存する。
// アルバムの検索・作成・追加の失敗はアップロード自体を失敗させない。
// 同じ記録のアップロードは同時に1つまでで、実行中はErrUploadInProgressを返す。
func (l *Ledger) UploadToCloud(ctx context.Context, id string) (model.DailyRecord, error) {
	token, ok := l.tokens.AccessToken()
	if !ok {
		return model.DailyRecord{}, model.ErrNoSession
	}

	l.mu.Lock()
	userID := l.userID
	i := indexOf(l.records, id)
	if i < 0 {
		l.mu.Unlock()
		return model.DailyRecord{}, model.ErrRecordNotFound
	}
	record := l.records[i]
	if record.Uploaded {
		l.mu.Unlock()
		return record, nil
	}
	if _, busy := l.inflight[id]; busy {
		l.mu.Unlock()
		return model.DailyRecord{}, model.ErrUploadInProgress
	}
	l.inflight[id] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.inflight, id)
		l.mu.Unlock()
	}()

	start := time.Now()
	mediaItemID, err := l.upload(ctx, token, record)
	if l.metrics != nil {
		l.metrics.RecordUpload(err == nil, time.Since(start))
	}
	if err != nil {
		slog.Error("failed to upload selfie",
			slog.String("record_id", id),
			slog.String("error", err.Error()),
		)
		return model.DailyRecord{}, err
	}

	record.Uploaded = true
	record.GooglePhotosID = mediaItemID

	if err := l.markUploaded(ctx, userID, record); err != nil {
		return model.DailyRecord{}, err
	}

	slog.Info("selfie uploaded", slog.String("record_id", id), slog.String("media_item_id", mediaItemID))
	return record, nil
}

// upload はアップロード手順を実行し、作成されたメディアアイテムのIDを返す。
func (l *Ledger) upload(ctx context.Context, token string, record model.DailyRecord) (string, error) {
	data, mimeType, err := capture.DecodeDataURL(record.PhotoURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrUpload, err)
	}

	albumID, err := l.uploader.FindOrCreateAlbum(ctx, token)
	if err != nil {
		slog.Warn("album unavailable, uploading without album", slog.String("error", err.Error()))
		l.albumFailed()
		albumID = ""
	}

	uploadToken, err := l.uploader.Upload(ctx, token, data, mimeType)
	if err != nil {
		return "", err
	}

	description := "Daily selfie - " + model.DateString(record.Time().In(l.loc))
	fileName := fmt.Sprintf("selfie-%d.jpg", l.now().UnixMilli())
	mediaItemID, err := l.uploader.CreateMediaItem(ctx, token, uploadToken, description, fileName)
	if err != nil {
		return "", err
	}
	if mediaItemID == "" {
		return "", fmt.Errorf("%w: empty media item id", model.ErrUpload)
	}

	if albumID != "" {
		if err := l.uploader.AddToAlbum(ctx, token, albumID, []string{mediaItemID}); err != nil {
			// 写真はライブラリに保存済みなので失敗扱いにしない
			slog.Warn("failed to add media item to album",
				slog.String("album_id", albumID),
				slog.String("error", err.Error()),
			)
			l.albumFailed()
		}
	}

	return mediaItemID, nil
}

// markUploaded は同期済みの記録を保存する。アップロード中にユーザーが切り替わった場合は
// 元のユーザーの保存内容を直接更新する。
func (l *Ledger) markUploaded(ctx context.Context, userID string, record model.DailyRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.userID == userID {
		i := indexOf(l.records, record.ID)
		if i < 0 {
			return model.ErrRecordNotFound
		}
		updated := make([]model.DailyRecord, len(l.records))
		copy(updated, l.records)
		updated[i] = record
		if err := l.repo.SaveRecords(ctx, userID, updated); err != nil {
			return err
		}
		l.records = updated
		return nil
	}

	stored, err := l.repo.LoadRecords(ctx, userID)
	if err != nil {
		return err
	}
	i := indexOf(stored, record.ID)
	if i < 0 {
		return model.ErrRecordNotFound
	}
	stored[i] = record
	return l.repo.SaveRecords(ctx, userID, stored)
}

func (l *Ledger) albumFailed() {
	if l.metrics != nil {
		l.metrics.RecordAlbumFailure()
	}
}

func indexOf(records []model.DailyRecord, id string) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
