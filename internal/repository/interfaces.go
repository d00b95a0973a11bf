// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/miniauth/internal/model"
)

// ErrDuplicate は一意制約に違反する挿入が行われた場合に返される。
// 同一external_idのユーザーや同一トークンのセッションを並行に作成した場合に発生する。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByExternalID は外部ID（openid）でユーザーを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	// external_idが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はプロフィール項目を部分更新し、更新後のユーザーを返す。
	// nilフィールドは変更しない。ユーザーが存在しない場合はnilを返す。
	UpdateProfile(ctx context.Context, id string, displayName, avatarRef *string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
// トークンをキーとする操作は一意インデックスを使用する。
type SessionRepository interface {
	// Create はセッションを作成する。トークンが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, session *model.Session) error

	// FindByToken はトークンでセッションを取得する。見つからない場合はnilを返す。
	// 期限切れのセッションも返す（判定は呼び出し側で行う）。
	FindByToken(ctx context.Context, token string) (*model.Session, error)

	// FindAllByUserID は指定ユーザーの全セッションを返す。
	FindAllByUserID(ctx context.Context, userID string) ([]*model.Session, error)

	// Extend はセッションの有効期限をexpiresAtで上書きし、更新後のセッションを返す。
	// 加算はしない。見つからない場合はnilを返す。
	Extend(ctx context.Context, token string, expiresAt time.Time) (*model.Session, error)

	// DeleteByToken は指定トークンのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByToken(ctx context.Context, token string) error

	// DeleteExpiredBefore はexpires_atがcutoffより前のセッションを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
