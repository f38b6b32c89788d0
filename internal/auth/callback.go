package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hitoshi/dailyselfie/internal/model"
)

// ErrInvalidCallback はコールバックURLにトークンが無い、またはstateが一致しないことを示す。
var ErrInvalidCallback = errors.New("invalid oauth callback")

// Callback はリダイレクト先URLのフラグメントから取り出した認可結果。
type Callback struct {
	AccessToken string
	State       string
	ExpiresIn   int
	// CleanURL はフラグメントを取り除いたURL。履歴を置き換えてトークンを画面から消すために使う。
	CleanURL string
}

// IsCallbackURL はURLのフラグメントにアクセストークンまたはエラーが含まれるかを返す。
func IsCallbackURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Fragment == "" {
		return false
	}
	values, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return false
	}
	return values.Get("access_token") != "" || values.Get("error") != ""
}

// StripFragment はURLからフラグメントを取り除いた文字列を返す。
func StripFragment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// ParseCallback はリダイレクト先URLを解析し、期待するstateと一致する場合のみCallbackを返す。
// 副作用を持たない純粋関数で、セッションの生成は呼び出し元が行う。
// プロバイダーがエラーを返した場合はmodel.ErrAuthをラップし、
// トークン欠落やstate不一致の場合はErrInvalidCallbackをラップしたエラーを返す。
func ParseCallback(rawURL, expectedState string) (*Callback, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed url: %v", ErrInvalidCallback, err)
	}
	values, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed fragment: %v", ErrInvalidCallback, err)
	}

	if e := values.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: authorization denied: %s", model.ErrAuth, e)
	}

	token := values.Get("access_token")
	if token == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrInvalidCallback)
	}

	state := values.Get("state")
	if expectedState == "" || state == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(expectedState)) != 1 {
		return nil, fmt.Errorf("%w: state mismatch", ErrInvalidCallback)
	}

	expiresIn, _ := strconv.Atoi(values.Get("expires_in"))

	u.Fragment = ""
	u.RawFragment = ""

	return &Callback{
		AccessToken: token,
		State:       state,
		ExpiresIn:   expiresIn,
		CleanURL:    u.String(),
	}, nil
}
