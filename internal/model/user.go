// Package model はドメインモデルを定義する。
package model

import "time"

// User はミニプログラムの外部IDに紐づくローカルユーザーを表す。
// ExternalIDは一度割り当てられたら変更されない。
type User struct {
	ID          string
	ExternalID  string // openid
	SecondaryID string // unionid（未提供の場合は空）
	DisplayName string
	AvatarRef   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session はトークンとユーザーを結びつけるサーバー側のログインセッションを表す。
// Tokenは発行済みクレデンシャルと同じ文字列で、一意である。
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt SessionExpiry
	CreatedAt time.Time
}

// SessionExpiry はセッションの有効期限。
// クレデンシャルの有効期限とは独立した時計で、アクセス可否の判定に使う。
type SessionExpiry struct {
	time.Time
}

// NewSessionExpiry はtをセッション有効期限として扱う。
func NewSessionExpiry(t time.Time) SessionExpiry {
	return SessionExpiry{Time: t}
}

// ExpiredAt はnow時点でセッションが期限切れかを返す。
// expires_at < now の場合のみ期限切れとし、等しい場合はまだ有効とする。
func (e SessionExpiry) ExpiredAt(now time.Time) bool {
	return e.Time.Before(now)
}

// CredentialExpiry はベアラークレデンシャルに埋め込まれた有効期限。
// クレデンシャルの最大寿命を制限するだけで、セッションの可否は決めない。
type CredentialExpiry struct {
	time.Time
}

// NewCredentialExpiry はtをクレデンシャル有効期限として扱う。
func NewCredentialExpiry(t time.Time) CredentialExpiry {
	return CredentialExpiry{Time: t}
}

// ExpiredAt はnow時点でクレデンシャルが期限切れかを返す。
// now >= exp で期限切れ（ちょうど等しい場合も無効）。
func (e CredentialExpiry) ExpiredAt(now time.Time) bool {
	return !now.Before(e.Time)
}

// UserView はログイン・プロフィールAPIで返すユーザー表現。
type UserView struct {
	ID        string `json:"id"`
	OpenID    string `json:"openid"`
	UnionID   string `json:"unionid,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// NewUserView はUserをAPIレスポンス用の表現に変換する。
func NewUserView(u *User) UserView {
	return UserView{
		ID:        u.ID,
		OpenID:    u.ExternalID,
		UnionID:   u.SecondaryID,
		Nickname:  u.DisplayName,
		AvatarURL: u.AvatarRef,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
