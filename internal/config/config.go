package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string        `toml:"listen_addr"`
	Port              string        `toml:"port"`
	DatabasePath      string        `toml:"database_path"`
	SessionSecret     string        `toml:"session_secret"`
	GinMode           string        `toml:"gin_mode"`
	SiteBaseURL       string        `toml:"site_base_url"`
	SuperRootUserName string        `toml:"super_root_user_name"`
	SuperRootPassword string        `toml:"super_root_password"`
	StoreTimeout      time.Duration `toml:"-"`
	LogLevel          string        `toml:"log_level"`
	LogFormat         string        `toml:"log_format"`
	PopularQueryTTL   time.Duration `toml:"-"`
	PopularQuerySize  int           `toml:"popular_query_size"`
	OAuth             OAuthConfig   `toml:"oauth"`
}

// OAuthConfig 描述外部 OAuth 提供方（默认 Discord）。
type OAuthConfig struct {
	Provider     string   `toml:"provider"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	UserInfoURL  string   `toml:"userinfo_url"`
	Scopes       []string `toml:"scopes"`
}

// Enabled 表示是否配置了可用的 OAuth 凭据。
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != "" && o.ClientSecret != ""
}

const (
	defaultStoreTimeout     = 5 * time.Second
	defaultPopularQueryTTL  = time.Hour
	defaultPopularQuerySize = 256
)

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
// 若设置了 CONFIG_FILE，则再用 TOML 文件中的非空字段覆盖。
func Load() AppConfig {
	cfg := loadEnv()

	path := env("CONFIG_FILE", "")
	if path == "" {
		return cfg
	}

	merged, err := LoadFile(path, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[config] ignore %s: %v\n", path, err)
		return cfg
	}
	return merged
}

func loadEnv() AppConfig {
	port := env("PORT", "8080")

	listenAddr := env("LISTEN_ADDR", "")
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	return AppConfig{
		ListenAddr:        listenAddr,
		Port:              port,
		DatabasePath:      env("DATABASE_PATH", "monsterhub.db"),
		SessionSecret:     env("SESSION_SECRET", "monsterhub-dev-secret"),
		GinMode:           env("GIN_MODE", "release"),
		SiteBaseURL:       strings.TrimRight(env("SITE_BASE_URL", "http://localhost:"+port), "/"),
		SuperRootUserName: env("SUPER_ROOT_USER_NAME", ""),
		SuperRootPassword: env("SUPER_ROOT_PASSWORD", ""),
		StoreTimeout:      durationEnv("STORE_TIMEOUT", defaultStoreTimeout),
		LogLevel:          env("LOG_LEVEL", "info"),
		LogFormat:         env("LOG_FORMAT", "text"),
		PopularQueryTTL:   durationEnv("POPULAR_QUERY_TTL", defaultPopularQueryTTL),
		PopularQuerySize:  intEnv("POPULAR_QUERY_SIZE", defaultPopularQuerySize),
		OAuth: OAuthConfig{
			Provider:     env("OAUTH_PROVIDER", "discord"),
			ClientID:     env("OAUTH_CLIENT_ID", ""),
			ClientSecret: env("OAUTH_CLIENT_SECRET", ""),
			AuthURL:      env("OAUTH_AUTH_URL", "https://discord.com/oauth2/authorize"),
			TokenURL:     env("OAUTH_TOKEN_URL", "https://discord.com/api/oauth2/token"),
			UserInfoURL:  env("OAUTH_USERINFO_URL", "https://discord.com/api/users/@me"),
			Scopes:       splitList(env("OAUTH_SCOPES", "identify")),
		},
	}
}

// fileConfig 对应 TOML 文件；时长字段以字符串书写（如 "3s"）。
type fileConfig struct {
	AppConfig
	StoreTimeout    string `toml:"store_timeout"`
	PopularQueryTTL string `toml:"popular_query_ttl"`
}

// LoadFile 读取 TOML 配置文件，并以其中的非空字段覆盖 base。
func LoadFile(path string, base AppConfig) (AppConfig, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return base, fmt.Errorf("decode config file: %w", err)
	}

	out := base
	overlay := func(dst *string, v string) {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			*dst = trimmed
		}
	}

	overlay(&out.ListenAddr, fc.ListenAddr)
	overlay(&out.Port, fc.Port)
	overlay(&out.DatabasePath, fc.DatabasePath)
	overlay(&out.SessionSecret, fc.SessionSecret)
	overlay(&out.GinMode, fc.GinMode)
	overlay(&out.SiteBaseURL, fc.SiteBaseURL)
	overlay(&out.SuperRootUserName, fc.SuperRootUserName)
	overlay(&out.SuperRootPassword, fc.SuperRootPassword)
	overlay(&out.LogLevel, fc.LogLevel)
	overlay(&out.LogFormat, fc.LogFormat)
	overlay(&out.OAuth.Provider, fc.OAuth.Provider)
	overlay(&out.OAuth.ClientID, fc.OAuth.ClientID)
	overlay(&out.OAuth.ClientSecret, fc.OAuth.ClientSecret)
	overlay(&out.OAuth.AuthURL, fc.OAuth.AuthURL)
	overlay(&out.OAuth.TokenURL, fc.OAuth.TokenURL)
	overlay(&out.OAuth.UserInfoURL, fc.OAuth.UserInfoURL)

	if len(fc.OAuth.Scopes) > 0 {
		out.OAuth.Scopes = fc.OAuth.Scopes
	}
	if fc.PopularQuerySize > 0 {
		out.PopularQuerySize = fc.PopularQuerySize
	}
	if d, err := time.ParseDuration(strings.TrimSpace(fc.StoreTimeout)); err == nil && d > 0 {
		out.StoreTimeout = d
	}
	if d, err := time.ParseDuration(strings.TrimSpace(fc.PopularQueryTTL)); err == nil && d > 0 {
		out.PopularQueryTTL = d
	}
	out.SiteBaseURL = strings.TrimRight(out.SiteBaseURL, "/")

	return out, nil
}

func env(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := env(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func intEnv(key string, fallback int) int {
	raw := env(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
