package router

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/handler"
	"github.com/monsterhub/internal/observability"
	"github.com/monsterhub/internal/permission"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(sessionSecret string, api *handler.API, metrics *observability.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if metrics != nil {
		r.Use(metrics.Middleware())
	}

	// 配置会话中间件
	secret := sessionSecret
	if secret == "" {
		secret = "monsterhub-dev-secret"
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   60 * 60 * 24 * 30,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("monsterhub_session", store))
	r.Use(api.ResolvePrincipal())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	auth := r.Group("/auth")
	{
		auth.GET("/login", api.OAuthLogin)
		auth.GET("/callback", api.OAuthCallback)
		auth.POST("/password", api.PasswordLogin)
		auth.POST("/logout", api.Logout)
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/auth/me", api.Me)
		apiGroup.GET("/search", api.Search)
		apiGroup.GET("/search/popular", api.PopularSearches)
		apiGroup.GET("/stats/:type", api.GetStats)

		apiGroup.GET("/interactions/:type/:slug", api.GetInteractionState)
		apiGroup.POST("/interactions/:type/:slug", api.RequireAuth(), api.RecordInteraction)

		apiGroup.PUT("/admin/users/:id/role", api.RequireAuth(), api.SetUserRole)

		// 四个板块共用同一套内容路由
		for _, module := range permission.Modules {
			base := apiGroup.Group("/" + string(module))
			collection := "/" + handler.CollectionPath(module)

			base.GET("/tags", api.GetTags(module))
			base.GET(collection, api.ListContent(module))
			base.GET(collection+"/:slug", api.GetContent(module))
			base.POST(collection, api.RequireAuth(), api.CreateContent(module))
			base.PUT(collection+"/:slug", api.RequireAuth(), api.UpdateContent(module))
			base.DELETE(collection+"/:slug", api.RequireAuth(), api.DeleteContent(module))
		}
	}

	return r
}
