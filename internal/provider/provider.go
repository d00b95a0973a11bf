// Package provider はミニプログラムのログインコードを外部IDに交換するプロバイダーを提供する。
package provider

import (
	"context"
	"fmt"
)

// Exchange はログインコード交換の結果。
type Exchange struct {
	ExternalID  string // openid
	SecondaryID string // unionid（任意）
	SessionKey  string // プロバイダーが発行するセッション鍵
	DisplayName string // 新規ユーザー作成時の初期表示名（任意）
}

// Provider はログインコードを外部IDに交換する。
type Provider interface {
	Exchange(ctx context.Context, code string) (*Exchange, error)
}

// RejectedError はプロバイダーがコードを拒否した場合のエラー。
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("provider rejected code: errcode=%d errmsg=%s", e.Code, e.Message)
}
