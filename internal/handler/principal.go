package handler

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/permission"
	"github.com/monsterhub/internal/service"
)

const (
	sessionUserKey   = "user_id"
	viewerContextKey = "__viewer"
)

// Viewer 是当前请求的登录用户，匿名请求为 nil。
type Viewer struct {
	Principal permission.Principal
	Name      string
	Avatar    string
}

// PrincipalResolver 把请求中的会话解析为登录用户。
// 无会话或会话指向的用户不存在时返回 (nil, nil)。
type PrincipalResolver interface {
	Resolve(c *gin.Context) (*Viewer, error)
}

// SessionResolver 从 cookie 会话中读取用户 ID，并从数据库读取最新角色。
type SessionResolver struct {
	users *service.UserService
}

// NewSessionResolver creates a SessionResolver.
func NewSessionResolver(users *service.UserService) *SessionResolver {
	return &SessionResolver{users: users}
}

// Resolve 实现 PrincipalResolver。
func (r *SessionResolver) Resolve(c *gin.Context) (*Viewer, error) {
	session := sessions.Default(c)
	userID, ok := session.Get(sessionUserKey).(string)
	if !ok || userID == "" {
		return nil, nil
	}

	user, err := r.users.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &Viewer{
		Principal: *user.Principal(),
		Name:      user.Name(),
		Avatar:    user.AvatarURL,
	}, nil
}

// ResolvePrincipal 在每个请求上解析登录用户并放入上下文。
func (a *API) ResolvePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		viewer, err := a.resolver.Resolve(c)
		if err != nil {
			a.logger.WithError(err).Warn("resolve principal failed")
			respondError(c, http.StatusInternalServerError, "服务器内部错误")
			c.Abort()
			return
		}
		if viewer != nil {
			c.Set(viewerContextKey, viewer)
		}
		c.Next()
	}
}

// RequireAuth 要求请求已登录，否则返回 401。
func (a *API) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentViewer(c) == nil {
			respondError(c, http.StatusUnauthorized, "请先登录")
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentViewer(c *gin.Context) *Viewer {
	value, exists := c.Get(viewerContextKey)
	if !exists {
		return nil
	}
	viewer, _ := value.(*Viewer)
	return viewer
}

// currentPrincipal 返回权限判断用的主体；匿名为 nil。
func currentPrincipal(c *gin.Context) *permission.Principal {
	viewer := currentViewer(c)
	if viewer == nil {
		return nil
	}
	return &viewer.Principal
}

func viewerID(c *gin.Context) string {
	if viewer := currentViewer(c); viewer != nil {
		return viewer.Principal.ID
	}
	return ""
}
