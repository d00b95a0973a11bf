package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/miniauth/internal/metrics"
	"github.com/hitoshi/miniauth/internal/model"
	"github.com/hitoshi/miniauth/internal/repository"
)

// Principal は認証済みリクエストの主体。
type Principal struct {
	User       *model.User
	Session    *model.Session
	ExternalID string
}

// Guard はリクエスト時にトークンを検証し、セッションを照合・延長する。
type Guard struct {
	identities  IdentityResolver
	issuer      CredentialIssuer
	sessionRepo repository.SessionRepository
	metrics     metrics.MetricsCollector
	sessionTTL  time.Duration
	now         func() time.Time
}

// NewGuard はGuardを生成する。
func NewGuard(
	identities IdentityResolver,
	issuer CredentialIssuer,
	sessionRepo repository.SessionRepository,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Guard {
	if collector == nil {
		collector = nopCollector{}
	}
	config = config.withDefaults()
	return &Guard{
		identities:  identities,
		issuer:      issuer,
		sessionRepo: sessionRepo,
		metrics:     collector,
		sessionTTL:  config.SessionTTL,
		now:         config.Now,
	}
}

// Authenticate はトークンを検証し、成功時はセッションを現在時刻 + SessionTTLまで延長する。
// セッションの有効期限はクレデンシャルの有効期限とは独立に判定する。
func (g *Guard) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		g.metrics.RecordGuard(metrics.GuardUnauthenticated)
		return nil, model.NewUnauthenticatedError()
	}

	verified, err := g.issuer.Verify(token)
	if err != nil {
		g.metrics.RecordGuard(metrics.GuardUnauthenticated)
		return nil, model.NewUnauthenticatedError()
	}

	user, err := g.identities.FindByExternalID(ctx, verified.ExternalID)
	if err != nil {
		return nil, g.failed(err)
	}
	if user == nil {
		g.metrics.RecordGuard(metrics.GuardIdentityNotFound)
		slog.Warn("credential refers to unknown identity",
			slog.String("external_id", verified.ExternalID),
		)
		return nil, model.NewIdentityNotFoundError()
	}

	session, err := g.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, g.failed(err)
	}
	if session == nil {
		g.metrics.RecordGuard(metrics.GuardSessionNotFound)
		return nil, model.NewSessionNotFoundError()
	}

	now := g.now()
	if session.ExpiresAt.ExpiredAt(now) {
		g.metrics.RecordGuard(metrics.GuardSessionExpired)
		return nil, model.NewSessionExpiredError()
	}

	extended, err := g.sessionRepo.Extend(ctx, token, now.Add(g.sessionTTL))
	if err != nil {
		return nil, g.failed(err)
	}
	if extended == nil {
		g.metrics.RecordGuard(metrics.GuardSessionNotFound)
		return nil, model.NewSessionNotFoundError()
	}

	g.metrics.RecordGuard(metrics.GuardOK)
	return &Principal{
		User:       user,
		Session:    extended,
		ExternalID: verified.ExternalID,
	}, nil
}

func (g *Guard) failed(err error) error {
	g.metrics.RecordGuard(metrics.GuardError)
	return model.NewInternalError(err)
}
