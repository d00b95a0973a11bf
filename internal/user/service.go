// Package user はログイン済みユーザーのプロフィール管理を提供する。
package user

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/miniauth/internal/model"
	"github.com/hitoshi/miniauth/internal/repository"
	"github.com/hitoshi/miniauth/internal/security"
)

// ProfileUpdate はプロフィールの部分更新内容。nilのフィールドは変更しない。
// 空文字列は値の削除として扱う。
type ProfileUpdate struct {
	Nickname  *string
	AvatarURL *string
}

// Service はプロフィールの取得と更新を提供する。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer security.ProfileSanitizer
	urlGuard  security.URLGuard
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sanitizer security.ProfileSanitizer,
	urlGuard security.URLGuard,
) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
		urlGuard:  urlGuard,
	}
}

// GetProfile は指定ユーザーのプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if user == nil {
		return nil, model.NewIdentityNotFoundError()
	}
	return user, nil
}

// UpdateProfile は表示名とアバターURLを検証して部分更新する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*model.User, error) {
	if update.Nickname == nil && update.AvatarURL == nil {
		return nil, model.NewValidationError("更新する項目がありません。")
	}

	var displayName, avatarRef *string

	if update.Nickname != nil {
		sanitized, err := s.sanitizer.SanitizeDisplayName(*update.Nickname)
		if errors.Is(err, security.ErrDisplayNameTooLong) {
			return nil, model.NewValidationError("ニックネームは64文字以内で入力してください。")
		}
		if errors.Is(err, security.ErrDisplayNameMarkup) {
			return nil, model.NewValidationError("ニックネームに使用できない文字が含まれています。")
		}
		if err != nil {
			return nil, model.NewInternalError(err)
		}
		displayName = &sanitized
	}

	if update.AvatarURL != nil {
		avatar := *update.AvatarURL
		if avatar != "" {
			if err := s.urlGuard.ValidateURL(avatar); err != nil {
				slog.Warn("avatar url rejected",
					slog.String("user_id", userID),
					slog.String("reason", err.Error()),
				)
				return nil, model.NewValidationError("アバターURLが不正です。")
			}
		}
		avatarRef = &avatar
	}

	user, err := s.userRepo.UpdateProfile(ctx, userID, displayName, avatarRef)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if user == nil {
		return nil, model.NewIdentityNotFoundError()
	}

	slog.Info("profile updated", slog.String("user_id", userID))
	return user, nil
}
