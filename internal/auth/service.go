// Package auth はミニプログラムのログイン、セッションの照合・延長・破棄を提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/miniauth/internal/credential"
	"github.com/hitoshi/miniauth/internal/identity"
	"github.com/hitoshi/miniauth/internal/metrics"
	"github.com/hitoshi/miniauth/internal/model"
	"github.com/hitoshi/miniauth/internal/provider"
	"github.com/hitoshi/miniauth/internal/repository"
)

// DefaultTTL はセッションとクレデンシャルの既定の有効期間（7日）。
const DefaultTTL = 7 * 24 * time.Hour

// MaxCodeLength はログインコードの最大長（バイト）。
// 外部IDやユーザー名をコードから組み立てる開発用プロバイダーでも列長に収まる値にする。
const MaxCodeLength = 64

// CredentialIssuer はベアラートークンの発行と検証のインターフェース。
type CredentialIssuer interface {
	Issue(externalID, providerSecret string, ttl time.Duration) (*credential.Credential, error)
	Verify(token string) (*credential.Verified, error)
}

// IdentityResolver は外部IDからユーザーを解決するインターフェース。
type IdentityResolver interface {
	ResolveOrCreate(ctx context.Context, in identity.ResolveInput) (*model.User, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL    time.Duration
	CredentialTTL time.Duration
	// Now は現在時刻を返す。nilの場合はtime.Nowを使用する。
	Now func() time.Time
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultTTL
	}
	if c.CredentialTTL <= 0 {
		c.CredentialTTL = DefaultTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// LoginResult はログイン結果。
type LoginResult struct {
	Token         string
	User          *model.User
	SessionReused bool
	ExpiresAt     model.SessionExpiry
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider    provider.Provider
	identities  IdentityResolver
	issuer      CredentialIssuer
	sessionRepo repository.SessionRepository
	metrics     metrics.MetricsCollector
	config      ServiceConfig
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	p provider.Provider,
	identities IdentityResolver,
	issuer CredentialIssuer,
	sessionRepo repository.SessionRepository,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = nopCollector{}
	}
	return &Service{
		provider:    p,
		identities:  identities,
		issuer:      issuer,
		sessionRepo: sessionRepo,
		metrics:     collector,
		config:      config.withDefaults(),
	}
}

// WithProvider は同じストアと設定を共有し、コード交換先だけを差し替えたServiceを返す。
func (s *Service) WithProvider(p provider.Provider) *Service {
	clone := *s
	clone.provider = p
	return &clone
}

// Login はログインコードを交換し、ユーザーを解決してセッションを返す。
// トークンがまだ検証に通る既存セッションがある場合は有効期限が最も遅いものを延長し、そのトークンを返す。
// この場合、新たに発行したクレデンシャルは破棄される。
// トークンの期限が切れたセッションは再利用せず削除し、新しいクレデンシャルでセッションを作成する。
func (s *Service) Login(ctx context.Context, code string) (*LoginResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		s.metrics.RecordLogin(metrics.LoginInvalid)
		return nil, model.NewValidationError("ログインコードは必須です。")
	}
	if len(code) > MaxCodeLength {
		s.metrics.RecordLogin(metrics.LoginInvalid)
		return nil, model.NewValidationError("ログインコードが長すぎます。")
	}

	// 1. コード交換
	started := time.Now()
	exchange, err := s.provider.Exchange(ctx, code)
	s.metrics.RecordProviderLatency(time.Since(started))
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginProviderRejected)
		var rejected *provider.RejectedError
		if errors.As(err, &rejected) && rejected.Message != "" {
			return nil, model.NewProviderRejectedError(rejected.Message, err)
		}
		return nil, model.NewProviderRejectedError("ログインコードの交換に失敗しました。", err)
	}

	// 2. ユーザー解決
	user, err := s.identities.ResolveOrCreate(ctx, identity.ResolveInput{
		ExternalID:  exchange.ExternalID,
		SecondaryID: exchange.SecondaryID,
		DisplayName: exchange.DisplayName,
	})
	if err != nil {
		return nil, s.loginFailed(err)
	}

	// 3. クレデンシャル発行
	cred, err := s.issuer.Issue(exchange.ExternalID, exchange.SessionKey, s.config.CredentialTTL)
	if err != nil {
		return nil, s.loginFailed(err)
	}

	// 4. セッション照合
	sessions, err := s.sessionRepo.FindAllByUserID(ctx, user.ID)
	if err != nil {
		return nil, s.loginFailed(err)
	}

	now := s.config.Now()
	expiresAt := now.Add(s.config.SessionTTL)

	reusable, stale := s.partitionSessions(sessions)
	if latest := latestSession(reusable); latest != nil {
		extended, err := s.sessionRepo.Extend(ctx, latest.Token, expiresAt)
		if err != nil {
			return nil, s.loginFailed(err)
		}
		if extended != nil {
			return s.reused(user, extended), nil
		}
		// 照合と延長の間に削除された場合は新規作成する
	}
	s.discardStale(ctx, user.ID, stale)

	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     cred.Token,
		ExpiresAt: model.NewSessionExpiry(expiresAt),
		CreatedAt: now,
	}
	err = s.sessionRepo.Create(ctx, session)
	if errors.Is(err, repository.ErrDuplicate) {
		// 並行ログインが同一トークンのセッションを先に作成した
		extended, extendErr := s.sessionRepo.Extend(ctx, cred.Token, expiresAt)
		if extendErr != nil {
			return nil, s.loginFailed(extendErr)
		}
		if extended != nil {
			return s.reused(user, extended), nil
		}
	}
	if err != nil {
		return nil, s.loginFailed(err)
	}

	s.metrics.RecordLogin(metrics.LoginCreated)
	slog.Info("session created",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)

	return &LoginResult{
		Token:     session.Token,
		User:      user,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) reused(user *model.User, session *model.Session) *LoginResult {
	s.metrics.RecordLogin(metrics.LoginReused)
	slog.Info("session reused",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)
	return &LoginResult{
		Token:         session.Token,
		User:          user,
		SessionReused: true,
		ExpiresAt:     session.ExpiresAt,
	}
}

func (s *Service) loginFailed(err error) error {
	s.metrics.RecordLogin(metrics.LoginError)
	return model.NewInternalError(err)
}

// partitionSessions はトークン（クレデンシャル）がまだ検証に通るセッションと、
// 期限切れ等で二度と認証に使えないセッションに分ける。
func (s *Service) partitionSessions(sessions []*model.Session) (reusable, stale []*model.Session) {
	for _, session := range sessions {
		if session == nil {
			continue
		}
		if _, err := s.issuer.Verify(session.Token); err != nil {
			stale = append(stale, session)
			continue
		}
		reusable = append(reusable, session)
	}
	return reusable, stale
}

// discardStale はクレデンシャルが無効になったセッションを削除する。
// 削除に失敗してもログインは継続し、残りはクリーンアップジョブに任せる。
func (s *Service) discardStale(ctx context.Context, userID string, stale []*model.Session) {
	for _, session := range stale {
		if err := s.sessionRepo.DeleteByToken(ctx, session.Token); err != nil {
			slog.Warn("failed to discard stale session",
				slog.String("user_id", userID),
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// latestSession は有効期限が最も遅いセッションを返す。同時刻の場合は先に現れたものを優先する。
func latestSession(sessions []*model.Session) *model.Session {
	var latest *model.Session
	for _, session := range sessions {
		if session == nil {
			continue
		}
		if latest == nil || session.ExpiresAt.After(latest.ExpiresAt.Time) {
			latest = session
		}
	}
	return latest
}

// Verify はクレデンシャルのみを検証する。セッションストアは参照しない。
func (s *Service) Verify(token string) bool {
	token = BearerToken(token)
	if token == "" {
		return false
	}
	_, err := s.issuer.Verify(token)
	return err == nil
}

// ExtendSession はセッションの有効期限を現在時刻 + SessionTTLで上書きする。
// 繰り返し呼び出しても有効期限は加算されない。
func (s *Service) ExtendSession(ctx context.Context, token string) (*model.Session, error) {
	token = BearerToken(token)
	if token == "" {
		return nil, model.NewUnauthenticatedError()
	}
	if _, err := s.issuer.Verify(token); err != nil {
		return nil, model.NewUnauthenticatedError()
	}

	session, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError()
	}

	now := s.config.Now()
	if session.ExpiresAt.ExpiredAt(now) {
		return nil, model.NewSessionExpiredError()
	}

	extended, err := s.sessionRepo.Extend(ctx, token, now.Add(s.config.SessionTTL))
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if extended == nil {
		return nil, model.NewSessionNotFoundError()
	}
	return extended, nil
}

// Logout はトークンに対応するセッションを破棄する。
// クレデンシャル自体は有効期限まで検証に成功し続ける。
func (s *Service) Logout(ctx context.Context, token string) error {
	token = BearerToken(token)
	if token == "" {
		return model.NewUnauthenticatedError()
	}

	if err := s.sessionRepo.DeleteByToken(ctx, token); err != nil {
		return model.NewInternalError(err)
	}

	slog.Info("user logged out")
	return nil
}

// BearerToken はAuthorizationヘッダー値からトークンを取り出す。
// "Bearer "接頭辞は任意（大文字小文字を区別しない）。
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if strings.EqualFold(header, strings.TrimSpace(prefix)) {
		return ""
	}
	if len(header) >= len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		header = strings.TrimSpace(header[len(prefix):])
	}
	return header
}

type nopCollector struct{}

func (nopCollector) RecordLogin(string)                  {}
func (nopCollector) RecordProviderLatency(time.Duration) {}
func (nopCollector) RecordGuard(string)                  {}
func (nopCollector) RecordHTTPStatus(int)                {}
func (nopCollector) RecordSessionsPurged(int64)          {}
