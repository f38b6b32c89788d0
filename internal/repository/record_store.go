package repository

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/hitoshi/dailyselfie/internal/kvstore"
	"github.com/hitoshi/dailyselfie/internal/model"
)

const (
	userKey          = "user"
	oauthStateKey    = "oauth_state"
	recordsKeyPrefix = "selfies_"
)

// RecordsKey はユーザーごとのセルフィー一覧を保存するキーを返す。
func RecordsKey(userID string) string {
	return recordsKeyPrefix + userID
}

// KVRecordStore はキーバリューストア上にプロフィールとセルフィー一覧をJSONで保存する。
// シリアライズ以外のロジックは持たない。
type KVRecordStore struct {
	kv kvstore.Store
}

// NewKVRecordStore はKVRecordStoreを生成する。
func NewKVRecordStore(kv kvstore.Store) *KVRecordStore {
	return &KVRecordStore{kv: kv}
}

// LoadUser は保存済みのユーザーセッションを取得する。見つからない場合はnilを返す。
func (s *KVRecordStore) LoadUser(ctx context.Context) (*model.UserSession, error) {
	data, found, err := s.kv.Get(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !found {
		return nil, nil
	}
	var user model.UserSession
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// SaveUser はユーザーセッションを保存する。
func (s *KVRecordStore) SaveUser(ctx context.Context, user *model.UserSession) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.kv.Set(ctx, userKey, data); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// ClearUser は保存済みのユーザーセッションを削除する。
func (s *KVRecordStore) ClearUser(ctx context.Context) error {
	if err := s.kv.Remove(ctx, userKey); err != nil {
		return fmt.Errorf("failed to clear user: %w", err)
	}
	return nil
}

// LoadRecords は指定ユーザーのセルフィー一覧を取得する。
// 保存されていない場合は空のスライスを返す。
func (s *KVRecordStore) LoadRecords(ctx context.Context, userID string) ([]model.DailyRecord, error) {
	data, found, err := s.kv.Get(ctx, RecordsKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	if !found {
		return []model.DailyRecord{}, nil
	}
	var records []model.DailyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	if records == nil {
		records = []model.DailyRecord{}
	}
	return records, nil
}

// SaveRecords は指定ユーザーのセルフィー一覧全体を保存する。
func (s *KVRecordStore) SaveRecords(ctx context.Context, userID string, records []model.DailyRecord) error {
	if records == nil {
		records = []model.DailyRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := s.kv.Set(ctx, RecordsKey(userID), data); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}
	return nil
}

// SaveState はOAuthリダイレクト中のstate値を保存する。
func (s *KVRecordStore) SaveState(ctx context.Context, state string) error {
	if err := s.kv.Set(ctx, oauthStateKey, []byte(state)); err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	return nil
}

// TakeState は保存済みのstate値を取り出して削除する。無ければ空文字を返す。
// state値は1回のコールバックでのみ使用できる。
func (s *KVRecordStore) TakeState(ctx context.Context) (string, error) {
	data, found, err := s.kv.Get(ctx, oauthStateKey)
	if err != nil {
		return "", fmt.Errorf("failed to load oauth state: %w", err)
	}
	if !found {
		return "", nil
	}
	if err := s.kv.Remove(ctx, oauthStateKey); err != nil {
		return "", fmt.Errorf("failed to clear oauth state: %w", err)
	}
	return string(data), nil
}

// compile-time interface check
var (
	_ SessionStore     = (*KVRecordStore)(nil)
	_ RecordRepository = (*KVRecordStore)(nil)
)
