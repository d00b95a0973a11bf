// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// 内部原因（ストレージや署名の失敗など）はcauseに保持し、レスポンスには出さない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// 定義済みエラーコード
const (
	ErrCodeProviderRejected = "PROVIDER_REJECTED"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired   = "SESSION_EXPIRED"
	ErrCodeIdentityNotFound = "IDENTITY_NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewProviderRejectedError は外部プロバイダーがコード交換を拒否した場合のエラーを生成する。
// messageにはプロバイダーが返したメッセージをそのまま含める。
func NewProviderRejectedError(message string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeProviderRejected,
		Message:  message,
		Category: "provider",
		Action:   "ミニプログラムで再度ログインコードを取得してください。",
		cause:    cause,
	}
}

// NewValidationError は必須入力の欠落などの入力エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnauthenticatedError はクレデンシャルが無い・不正・期限切れの場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewSessionNotFoundError はトークンに対応するセッションが存在しない場合のエラーを生成する。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "セッションが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSessionExpiredError はセッションの有効期限が切れている場合のエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れています。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewIdentityNotFoundError は検証済みクレデンシャルの外部IDに対応するユーザーが無い場合のエラーを生成する。
// 不正なクレデンシャルではなくデータ不整合を示す。
func NewIdentityNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は分類されないストレージ・署名などの失敗を包む。
// causeはログ出力のためにのみ保持する。
func NewInternalError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}
