package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultWeChatBaseURL = "https://api.weixin.qq.com"
	jsCode2SessionPath   = "/sns/jscode2session"

	maxResponseBytes = 64 << 10
)

// WeChatConfig はWeChatプロバイダーの設定。
type WeChatConfig struct {
	AppID  string
	Secret string

	// テスト用にオーバーライド可能なURL
	BaseURL string
}

// WeChatProvider はjscode2session APIでログインコードを交換する。
type WeChatProvider struct {
	config WeChatConfig
	client *http.Client
}

// NewWeChatProvider はWeChatProviderを生成する。
// clientがnilの場合はhttp.DefaultClientを使用する。
func NewWeChatProvider(config WeChatConfig, client *http.Client) *WeChatProvider {
	if config.BaseURL == "" {
		config.BaseURL = defaultWeChatBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if client == nil {
		client = http.DefaultClient
	}
	return &WeChatProvider{config: config, client: client}
}

// jsCode2SessionResponse はjscode2sessionのレスポンス。
// 失敗時はerrcodeとerrmsgのみが設定される。
type jsCode2SessionResponse struct {
	OpenID     string `json:"openid,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
	UnionID    string `json:"unionid,omitempty"`
	ErrCode    int    `json:"errcode,omitempty"`
	ErrMsg     string `json:"errmsg,omitempty"`
}

// Exchange はログインコードをopenid/unionid/session_keyに交換する。
// プロバイダーがerrcodeを返した場合は*RejectedErrorを返す。
func (p *WeChatProvider) Exchange(ctx context.Context, code string) (*Exchange, error) {
	params := url.Values{
		"appid":      {p.config.AppID},
		"secret":     {p.config.Secret},
		"js_code":    {code},
		"grant_type": {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+jsCode2SessionPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create jscode2session request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jscode2session request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read jscode2session response: %w", err)
	}

	var data jsCode2SessionResponse
	if err := json.Unmarshal(body, &data); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("jscode2session failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to parse jscode2session response: %w", err)
	}

	if data.ErrCode != 0 {
		return nil, &RejectedError{Code: data.ErrCode, Message: data.ErrMsg}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jscode2session failed with status %d", resp.StatusCode)
	}
	if data.OpenID == "" {
		return nil, fmt.Errorf("empty openid in jscode2session response")
	}

	return &Exchange{
		ExternalID:  data.OpenID,
		SecondaryID: data.UnionID,
		SessionKey:  data.SessionKey,
	}, nil
}

// compile-time interface check
var _ Provider = (*WeChatProvider)(nil)
