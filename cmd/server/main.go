package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/config"
	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/handler"
	"github.com/monsterhub/internal/observability"
	"github.com/monsterhub/internal/permission"
	"github.com/monsterhub/internal/router"
	"github.com/monsterhub/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 读取环境变量，并用 --config 指定的 TOML 文件覆盖。
func loadConfig(cmd *cobra.Command) (config.AppConfig, error) {
	cfg := config.Load()
	path, _ := cmd.Flags().GetString("config")
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	merged, err := config.LoadFile(path, cfg)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	return merged, nil
}

// openUsers 初始化数据库并返回用户服务，供管理命令使用。
func openUsers(cfg config.AppConfig) (*service.UserService, error) {
	if err := db.Init(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return service.NewUserService(db.DB), nil
}

var rootCmd = &cobra.Command{
	Use:   "monsterhub",
	Short: "Community forum, blog, wiki and monster dex server",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := observability.SetupLogger(cfg.LogLevel, cfg.LogFormat)
		gin.SetMode(cfg.GinMode)

		// 初始化数据库
		if err := db.Init(cfg.DatabasePath); err != nil {
			logger.WithError(err).Error("failed to initialize database")
			return err
		}

		metrics := observability.NewMetrics(prometheus.NewRegistry())

		var oauthClient *service.OAuthClient
		if cfg.OAuth.Enabled() {
			oauthClient = service.NewOAuthClient(service.OAuthSettings{
				Provider:     cfg.OAuth.Provider,
				ClientID:     cfg.OAuth.ClientID,
				ClientSecret: cfg.OAuth.ClientSecret,
				AuthURL:      cfg.OAuth.AuthURL,
				TokenURL:     cfg.OAuth.TokenURL,
				UserInfoURL:  cfg.OAuth.UserInfoURL,
				RedirectURL:  cfg.SiteBaseURL + "/auth/callback",
				Scopes:       cfg.OAuth.Scopes,
			})
		}
		if oauthClient == nil {
			logger.Warn("oauth login disabled, only password login for the super root is available")
		}

		api := handler.NewAPI(db.DB, handler.Options{
			Logger:         logger,
			StoreTimeout:   cfg.StoreTimeout,
			Observer:       metrics,
			PopularQueries: service.NewPopularQueries(cfg.PopularQuerySize, cfg.PopularQueryTTL),
			OAuth:          oauthClient,
			SiteBaseURL:    cfg.SiteBaseURL,
		})

		if err := api.Users().EnsureSuperRoot(context.Background(), cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
			logger.WithError(err).Error("failed to ensure super root account")
			return err
		}

		// 设置并运行 Gin 服务器
		r := router.SetupRouter(cfg.SessionSecret, api, metrics)
		logger.WithFields(logrus.Fields{
			"addr":     cfg.ListenAddr,
			"database": cfg.DatabasePath,
		}).Info("server starting")
		if err := r.Run(cfg.ListenAddr); err != nil {
			logger.WithError(err).Error("failed to run server")
			return err
		}
		return nil
	},
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create the local super root account if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if username == "" || password == "" {
			return fmt.Errorf("both --username and --password are required")
		}

		users, err := openUsers(cfg)
		if err != nil {
			return err
		}
		if err := users.EnsureSuperRoot(cmd.Context(), username, password); err != nil {
			return fmt.Errorf("creating admin: %w", err)
		}
		fmt.Printf("Admin account %q is ready\n", username)
		return nil
	},
}

var setRoleCmd = &cobra.Command{
	Use:   "set-role",
	Short: "Change a user's role",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		username, _ := cmd.Flags().GetString("user")
		rawRole, _ := cmd.Flags().GetString("role")
		role, ok := permission.ParseRole(rawRole)
		if !ok {
			return fmt.Errorf("unknown role %q", rawRole)
		}

		users, err := openUsers(cfg)
		if err != nil {
			return err
		}
		user, err := users.SetRoleByUsername(cmd.Context(), username, role)
		if err != nil {
			return fmt.Errorf("setting role: %w", err)
		}
		fmt.Printf("User %s is now %s\n", user.Username, user.Role)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML config file (overrides CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(createAdminCmd)
	createAdminCmd.Flags().String("username", "", "Admin username")
	createAdminCmd.Flags().String("password", "", "Admin password")

	rootCmd.AddCommand(setRoleCmd)
	setRoleCmd.Flags().StringP("user", "u", "", "Username to update")
	setRoleCmd.Flags().StringP("role", "r", "", "New role: admin, moderator, vip, member or banned")
	_ = setRoleCmd.MarkFlagRequired("user")
	_ = setRoleCmd.MarkFlagRequired("role")
}
