// Package kvstore はセルフィーとプロフィールを保存するキーバリューストアを提供する。
// キーをまたいだトランザクションは保証しない。
package kvstore

import (
	"context"
	"errors"
)

// ErrInvalidKey は空のキーが渡されたことを示す。
var ErrInvalidKey = errors.New("kvstore: empty key")

// Store は最小限のキーバリュー永続化インターフェース。
type Store interface {
	// Get はキーに対応する値を返す。存在しない場合はfound=falseでエラーなし。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set はキーに値を保存する。既存値は上書きする。
	Set(ctx context.Context, key string, value []byte) error
	// Remove はキーを削除する。存在しない場合もエラーにならない。
	Remove(ctx context.Context, key string) error
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
