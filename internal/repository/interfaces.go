// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/dailyselfie/internal/model"
)

// SessionStore はサインイン中ユーザーとOAuth stateの永続化インターフェース。
type SessionStore interface {
	// LoadUser は保存済みのユーザーを取得する。見つからない場合はnilを返す。
	LoadUser(ctx context.Context) (*model.UserSession, error)
	// SaveUser はユーザーを保存する。アクセストークンを含む。
	SaveUser(ctx context.Context, user *model.UserSession) error
	// ClearUser は保存済みのユーザーを削除する。
	ClearUser(ctx context.Context) error

	// SaveState はOAuthリダイレクト中のstate値を保存する。
	SaveState(ctx context.Context, state string) error
	// TakeState は保存済みのstate値を取り出して削除する。無ければ空文字を返す。
	TakeState(ctx context.Context) (string, error)
}

// RecordRepository はユーザーごとのセルフィー一覧の永続化インターフェース。
// ユーザーIDごとにキーが分かれるため、ユーザーを切り替えると互いに独立した一覧になる。
type RecordRepository interface {
	// LoadRecords は指定ユーザーのセルフィー一覧を取得する。無ければ空スライスを返す。
	LoadRecords(ctx context.Context, userID string) ([]model.DailyRecord, error)
	// SaveRecords は指定ユーザーのセルフィー一覧全体を上書き保存する。
	SaveRecords(ctx context.Context, userID string, records []model.DailyRecord) error
}
