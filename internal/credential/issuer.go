// Package credential はミニプログラムログインで発行するベアラートークン（HS256 JWT）の発行と検証を提供する。
// トークンの有効期限はセッションの有効期限とは独立して判定される。
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/miniauth/internal/model"
)

// ErrInvalidCredential は署名不一致、形式不正、期限切れのいずれかでトークンを受理できない場合に返される。
var ErrInvalidCredential = errors.New("invalid credential")

// Claims はトークンに埋め込むペイロード。
type Claims struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	jwt.RegisteredClaims
}

// Credential は発行済みトークンとその有効期限。
type Credential struct {
	Token      string
	ExternalID string
	IssuedAt   time.Time
	ExpiresAt  model.CredentialExpiry
}

// Verified は検証済みトークンから取り出した情報。
type Verified struct {
	ExternalID string
	SessionKey string
	IssuedAt   time.Time
	ExpiresAt  model.CredentialExpiry
}

// Config はIssuerの設定。
type Config struct {
	Secret []byte
	Issuer string
	// Now は現在時刻を返す。nilの場合はtime.Nowを使用する。
	Now func() time.Time
}

// Issuer はHS256で署名されたトークンを発行・検証する。
// 署名鍵は生成後に変更されない。
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。署名鍵が空の場合はエラーを返す。
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("credential secret is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &Issuer{secret: secret, issuer: cfg.Issuer, now: now}, nil
}

// Issue はexternalIDとproviderSecretを埋め込んだトークンを発行する。
// 有効期限は発行時刻 + ttl（秒精度）。
func (i *Issuer) Issue(externalID, providerSecret string, ttl time.Duration) (*Credential, error) {
	if externalID == "" {
		return nil, fmt.Errorf("external ID is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("credential ttl must be positive: %s", ttl)
	}

	issuedAt := jwt.NewNumericDate(i.now())
	expiresAt := jwt.NewNumericDate(issuedAt.Add(ttl))

	claims := Claims{
		OpenID:     externalID,
		SessionKey: providerSecret,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	return &Credential{
		Token:      token,
		ExternalID: externalID,
		IssuedAt:   issuedAt.Time,
		ExpiresAt:  model.NewCredentialExpiry(expiresAt.Time),
	}, nil
}

// Verify はトークンを検証し、埋め込まれた外部IDとプロバイダーシークレットを返す。
// 失敗時は常にErrInvalidCredentialを返す。有効期限と現在時刻が等しい場合は期限切れとみなす。
func (i *Issuer) Verify(token string) (*Verified, error) {
	if token == "" {
		return nil, ErrInvalidCredential
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	if claims.OpenID == "" {
		return nil, ErrInvalidCredential
	}

	// now == exp は期限切れ
	expiry := model.NewCredentialExpiry(claims.ExpiresAt.Time)
	if expiry.ExpiredAt(i.now()) {
		return nil, ErrInvalidCredential
	}

	verified := &Verified{
		ExternalID: claims.OpenID,
		SessionKey: claims.SessionKey,
		ExpiresAt:  expiry,
	}
	if claims.IssuedAt != nil {
		verified.IssuedAt = claims.IssuedAt.Time
	}
	return verified, nil
}
