// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// エラー分類。各操作はこれらをラップして返し、呼び出し元はerrors.Isで判定する。
var (
	// ErrConfiguration はクライアントIDなどの設定が欠けていることを示す。
	ErrConfiguration = errors.New("configuration error")
	// ErrAuth はOAuthフローや初期化中の失敗を示す。
	ErrAuth = errors.New("auth error")
	// ErrUpload はクラウドアップロード手順のいずれかが失敗したことを示す。
	ErrUpload = errors.New("upload error")
	// ErrCamera はカメラの取得や撮影の失敗を示す。
	ErrCamera = errors.New("camera error")

	// ErrNoSession は有効なセッションがないことを示す。
	ErrNoSession = errors.New("no active session")
	// ErrAlreadyCapturedToday は当日分のセルフィーが既に存在することを示す。
	ErrAlreadyCapturedToday = errors.New("selfie already captured today")
	// ErrRecordNotFound は指定IDのセルフィーが存在しないことを示す。
	ErrRecordNotFound = errors.New("record not found")
	// ErrUploadInProgress は同じセルフィーのアップロードが実行中であることを示す。
	ErrUploadInProgress = errors.New("upload already in progress")
	// ErrNoPendingCapture は確認待ちの撮影画像がないことを示す。
	ErrNoPendingCapture = errors.New("no pending capture")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, config, validation, upload, camera, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConfiguration        = "CONFIGURATION_ERROR"
	ErrCodeAuthFailed           = "AUTH_FAILED"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidCallback      = "INVALID_CALLBACK"
	ErrCodeUploadFailed         = "UPLOAD_FAILED"
	ErrCodeUploadInProgress     = "UPLOAD_IN_PROGRESS"
	ErrCodeCameraUnavailable    = "CAMERA_UNAVAILABLE"
	ErrCodeAlreadyCapturedToday = "ALREADY_CAPTURED_TODAY"
	ErrCodeRecordNotFound       = "RECORD_NOT_FOUND"
	ErrCodeNoPendingCapture     = "NO_PENDING_CAPTURE"
	ErrCodeInvalidFrame         = "INVALID_FRAME"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeRateLimited          = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFFailed           = "CSRF_VALIDATION_FAILED"
	ErrCodeAvatarUnavailable    = "AVATAR_UNAVAILABLE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewConfigurationError は設定不足エラーを生成する。
func NewConfigurationError() *APIError {
	return &APIError{
		Code:     ErrCodeConfiguration,
		Message:  "Googleのクライアント設定がありません。",
		Category: "config",
		Action:   "GOOGLE_CLIENT_ID と GOOGLE_API_KEY を設定してから再起動してください。",
	}
}

// NewAuthFailedError は認証失敗エラーを生成する。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "Googleアカウントでの認証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みして、もう一度サインインしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "サインインしてください。",
	}
}

// NewInvalidCallbackError はOAuthコールバックが不正な場合のエラーを生成する。
func NewInvalidCallbackError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCallback,
		Message:  "認証コールバックが不正です。",
		Category: "auth",
		Action:   "もう一度サインインしてください。",
	}
}

// NewUploadFailedError はGoogle フォトへのアップロード失敗エラーを生成する。
func NewUploadFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  "Google フォトへのアップロードに失敗しました。セルフィーはローカルに保存されています。",
		Category: "upload",
		Action:   "しばらく待ってから再度アップロードしてください。",
	}
}

// NewUploadInProgressError はアップロード実行中エラーを生成する。
func NewUploadInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeUploadInProgress,
		Message:  "このセルフィーはアップロード中です。",
		Category: "upload",
		Action:   "完了するまでお待ちください。",
	}
}

// NewCameraUnavailableError はカメラ利用不可エラーを生成する。
func NewCameraUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeCameraUnavailable,
		Message:  "カメラにアクセスできません。",
		Category: "camera",
		Action:   "カメラの使用を許可してから「再試行」を押してください。",
	}
}

// NewAlreadyCapturedTodayError は当日撮影済みエラーを生成する。
func NewAlreadyCapturedTodayError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyCapturedToday,
		Message:  "今日のセルフィーは撮影済みです。",
		Category: "validation",
		Action:   "また明日撮影してください。",
	}
}

// NewRecordNotFoundError はセルフィー未検出エラーを生成する。
func NewRecordNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeRecordNotFound,
		Message:  fmt.Sprintf("指定されたセルフィーが見つかりません: %s", id),
		Category: "validation",
		Action:   "セルフィーIDを確認してください。",
	}
}

// NewNoPendingCaptureError は確認待ち画像がない場合のエラーを生成する。
func NewNoPendingCaptureError() *APIError {
	return &APIError{
		Code:     ErrCodeNoPendingCapture,
		Message:  "保存待ちのセルフィーがありません。",
		Category: "validation",
		Action:   "先に撮影してください。",
	}
}

// NewInvalidFrameError は受信したフレームが画像として読めない場合のエラーを生成する。
func NewInvalidFrameError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFrame,
		Message:  fmt.Sprintf("カメラ画像を読み取れません: %s", reason),
		Category: "camera",
		Action:   "もう一度撮影してください。",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFFailedError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてください。",
	}
}

// NewAvatarUnavailableError はプロフィール画像を取得できない場合のエラーを生成する。
func NewAvatarUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeAvatarUnavailable,
		Message:  "プロフィール画像を取得できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
