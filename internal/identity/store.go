// Package identity は外部プロバイダーのID（openid）とローカルユーザーの対応付けを管理する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/miniauth/internal/model"
	"github.com/hitoshi/miniauth/internal/repository"
)

// ResolveInput はResolveOrCreateの入力。SecondaryIDとDisplayNameは任意。
type ResolveInput struct {
	ExternalID  string
	SecondaryID string
	DisplayName string
}

// Store は外部IDからユーザーを解決する。
type Store struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

// NewStore はStoreを生成する。nowがnilの場合はtime.Nowを使用する。
func NewStore(userRepo repository.UserRepository, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{userRepo: userRepo, now: now}
}

// ResolveOrCreate は外部IDでユーザーを検索し、存在しなければ作成する。
// 同一外部IDの並行作成で一意制約に衝突した場合は、先に作成されたユーザーを返す。
func (s *Store) ResolveOrCreate(ctx context.Context, in ResolveInput) (*model.User, error) {
	if in.ExternalID == "" {
		return nil, fmt.Errorf("external ID is required")
	}

	user, err := s.userRepo.FindByExternalID(ctx, in.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	now := s.now().UTC()
	user = &model.User{
		ID:          uuid.New().String(),
		ExternalID:  in.ExternalID,
		SecondaryID: in.SecondaryID,
		DisplayName: in.DisplayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		existing, findErr := s.userRepo.FindByExternalID(ctx, in.ExternalID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to find user after duplicate insert: %w", findErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("user %q vanished after duplicate insert", in.ExternalID)
		}
		slog.Debug("concurrent user creation resolved",
			slog.String("user_id", existing.ID),
		)
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("external_id", user.ExternalID),
	)
	return user, nil
}

// FindByExternalID は外部IDでユーザーを検索する。見つからない場合はnilを返す。
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	user, err := s.userRepo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}
