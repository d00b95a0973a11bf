package provider

import (
	"context"
	"fmt"
	"time"
)

// DevProvider は外部通信を行わずにコードから決定的なIDを返す開発用プロバイダー。
type DevProvider struct {
	now func() time.Time
}

// NewDevProvider はDevProviderを生成する。nowがnilの場合はtime.Nowを使用する。
func NewDevProvider(now func() time.Time) *DevProvider {
	if now == nil {
		now = time.Now
	}
	return &DevProvider{now: now}
}

// Exchange はdev_openid_<code>形式の外部IDを返す。
func (p *DevProvider) Exchange(_ context.Context, code string) (*Exchange, error) {
	if code == "" {
		return nil, &RejectedError{Code: errCodeInvalidCode, Message: "invalid code"}
	}
	return &Exchange{
		ExternalID:  "dev_openid_" + code,
		SecondaryID: "dev_unionid_" + code,
		SessionKey:  fmt.Sprintf("dev_session_key_%d", p.now().UnixMilli()),
		DisplayName: devDisplayName(code),
	}, nil
}

// maxDevDisplayNameRunes はusers.display_nameの列長。
const maxDevDisplayNameRunes = 64

func devDisplayName(code string) string {
	name := []rune("dev user " + code)
	if len(name) > maxDevDisplayNameRunes {
		name = name[:maxDevDisplayNameRunes]
	}
	return string(name)
}

var _ Provider = (*DevProvider)(nil)
