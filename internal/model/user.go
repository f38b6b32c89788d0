// Package model はドメインモデルを定義する。
package model

// UserSession はサインイン中のユーザーを表す。
// プロセス内で有効なセッションは最大1つで、存在しない場合はサインアウト状態とみなす。
// JSON形式はローカルストアの "user" キーにそのまま保存される。
type UserSession struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Picture     string `json:"picture"`
	AccessToken string `json:"accessToken"`
}

// HasToken はアクセストークンを保持しているかを返す。
func (s *UserSession) HasToken() bool {
	return s != nil && s.AccessToken != ""
}

// FirstName は表示名の最初の語を返す。ダッシュボードの挨拶に使う。
func (s *UserSession) FirstName() string {
	if s == nil {
		return ""
	}
	for i, r := range s.Name {
		if r == ' ' {
			return s.Name[:i]
		}
	}
	return s.Name
}
