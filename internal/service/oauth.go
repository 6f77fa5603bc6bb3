package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// ErrOAuthDisabled 表示未配置 OAuth 凭据。
var ErrOAuthDisabled = errors.New("oauth login is not configured")

// OAuthSettings 描述 OAuth 提供方的端点与凭据。
type OAuthSettings struct {
	Provider     string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
}

// OAuthClient 完成授权码换取令牌并读取用户资料。
type OAuthClient struct {
	provider    string
	userInfoURL string
	config      *oauth2.Config
}

// NewOAuthClient 在凭据不完整时返回 nil，调用方据此关闭 OAuth 登录。
func NewOAuthClient(settings OAuthSettings) *OAuthClient {
	if settings.ClientID == "" || settings.ClientSecret == "" || settings.AuthURL == "" || settings.TokenURL == "" {
		return nil
	}

	return &OAuthClient{
		provider:    strings.ToLower(strings.TrimSpace(settings.Provider)),
		userInfoURL: settings.UserInfoURL,
		config: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  settings.AuthURL,
				TokenURL: settings.TokenURL,
			},
			RedirectURL: settings.RedirectURL,
			Scopes:      settings.Scopes,
		},
	}
}

// Provider 返回提供方名称。
func (o *OAuthClient) Provider() string {
	return o.provider
}

// AuthCodeURL 返回跳转到提供方授权页的地址。
func (o *OAuthClient) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state)
}

// Exchange 用授权码换取令牌并拉取用户资料。
func (o *OAuthClient) Exchange(ctx context.Context, code string) (OAuthProfile, error) {
	if strings.TrimSpace(code) == "" {
		return OAuthProfile{}, invalidField("code", "missing authorization code")
	}

	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return OAuthProfile{}, fmt.Errorf("failed to exchange token: %w", err)
	}

	if o.userInfoURL == "" {
		return OAuthProfile{}, errors.New("userinfo url is required")
	}

	client := o.config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userInfoURL, nil)
	if err != nil {
		return OAuthProfile{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return OAuthProfile{}, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return OAuthProfile{}, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return OAuthProfile{}, fmt.Errorf("failed to decode user info: %w", err)
	}

	profile := o.profileFrom(info)
	if profile.ExternalID == "" {
		return OAuthProfile{}, errors.New("missing user id in user info response")
	}
	return profile, nil
}

// profileFrom 兼容 Discord 与常见 OIDC userinfo 字段。
func (o *OAuthClient) profileFrom(info map[string]interface{}) OAuthProfile {
	profile := OAuthProfile{
		Provider:    o.provider,
		ExternalID:  firstValue(info, "id", "sub"),
		Username:    firstValue(info, "username", "preferred_username", "login", "email"),
		DisplayName: firstValue(info, "global_name", "name", "username"),
		AvatarURL:   firstValue(info, "avatar_url", "picture"),
	}

	if profile.AvatarURL == "" {
		if hash := firstValue(info, "avatar"); hash != "" {
			if strings.HasPrefix(hash, "http://") || strings.HasPrefix(hash, "https://") {
				profile.AvatarURL = hash
			} else if o.provider == "discord" && profile.ExternalID != "" {
				profile.AvatarURL = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", profile.ExternalID, hash)
			}
		}
	}
	return profile
}

func firstValue(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := data[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}
