package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"github.com/monsterhub/internal/service"
	"github.com/sirupsen/logrus"
)

const sessionStateKey = "oauth_state"

type passwordLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

// OAuthLogin 跳转到 OAuth 提供方的授权页。
func (a *API) OAuthLogin(c *gin.Context) {
	if a.oauth == nil {
		respondError(c, http.StatusNotFound, "未配置 OAuth 登录")
		return
	}

	state := uuid.NewString()
	session := sessions.Default(c)
	session.Set(sessionStateKey, state)
	if err := session.Save(); err != nil {
		a.logger.WithError(err).Error("save oauth state failed")
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.Redirect(http.StatusFound, a.oauth.AuthCodeURL(state))
}

// OAuthCallback 校验 state，换取用户资料并建立会话。
func (a *API) OAuthCallback(c *gin.Context) {
	if a.oauth == nil {
		respondError(c, http.StatusNotFound, "未配置 OAuth 登录")
		return
	}

	session := sessions.Default(c)
	expected, _ := session.Get(sessionStateKey).(string)
	session.Delete(sessionStateKey)
	if expected == "" || c.Query("state") != expected {
		_ = session.Save()
		respondError(c, http.StatusBadRequest, "登录状态无效，请重试")
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	profile, err := a.oauth.Exchange(ctx, c.Query("code"))
	if err != nil {
		a.logger.WithError(err).WithField("provider", a.oauth.Provider()).Warn("oauth exchange failed")
		_ = session.Save()
		respondError(c, http.StatusUnauthorized, "第三方登录失败")
		return
	}

	user, err := a.users.UpsertOAuthUser(ctx, profile)
	if err != nil {
		a.writeServiceError(c, err, logrus.Fields{"provider": profile.Provider})
		return
	}

	if !a.startSession(c, user) {
		return
	}

	target := strings.TrimSpace(a.baseURL)
	if target == "" {
		target = "/"
	}
	c.Redirect(http.StatusFound, target)
}

// PasswordLogin 本地账号登录，仅用于超级管理员。
func (a *API) PasswordLogin(c *gin.Context) {
	var req passwordLoginRequest
	if !bindJSON(c, &req, "用户名和密码不能为空") {
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	user, err := a.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		a.writeServiceError(c, err, logrus.Fields{"username": req.Username})
		return
	}

	if !a.startSession(c, user) {
		return
	}
	respondMessage(c, http.StatusOK, "登录成功", gin.H{"user": user})
}

// Logout 清除会话。
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		a.logger.WithError(err).Warn("clear session failed")
	}
	respondMessage(c, http.StatusOK, "已退出登录", nil)
}

// Me 返回当前用户及其在各板块的权限。
func (a *API) Me(c *gin.Context) {
	viewer := currentViewer(c)
	principal := currentPrincipal(c)

	capabilities := make(map[permission.Module]permission.Capabilities, len(permission.Modules))
	for _, module := range permission.Modules {
		capabilities[module] = permission.Capabilities{
			CanCreate:     permission.CanCreate(principal, module),
			CanViewDrafts: permission.CanViewDrafts(principal, module),
		}
	}

	data := gin.H{
		"authenticated": viewer != nil,
		"capabilities":  capabilities,
	}
	if viewer != nil {
		data["user"] = gin.H{
			"id":     viewer.Principal.ID,
			"role":   viewer.Principal.Role,
			"name":   viewer.Name,
			"avatar": viewer.Avatar,
		}
	}
	respondOK(c, http.StatusOK, data)
}

// SetUserRole 修改用户角色，仅管理员可用。
func (a *API) SetUserRole(c *gin.Context) {
	principal := currentPrincipal(c)
	if principal == nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}
	if !permission.CanManageUsers(principal) {
		respondError(c, http.StatusForbidden, "没有权限修改角色")
		return
	}

	var req roleRequest
	if !bindJSON(c, &req, "角色不能为空") {
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	user, err := a.users.SetRole(ctx, c.Param("id"), permission.Role(strings.TrimSpace(req.Role)))
	if err != nil {
		a.writeServiceError(c, err, logrus.Fields{"target_user": c.Param("id")})
		return
	}

	a.logger.WithFields(logrus.Fields{
		"user_id":     principal.ID,
		"target_user": user.ID,
		"role":        user.Role,
	}).Info("user role changed")
	respondMessage(c, http.StatusOK, "角色已更新", gin.H{"user": user})
}

func (a *API) startSession(c *gin.Context, user *db.User) bool {
	session := sessions.Default(c)
	session.Set(sessionUserKey, user.ID)
	if err := session.Save(); err != nil {
		a.logger.WithError(err).WithField("user_id", user.ID).Error("save session failed")
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return false
	}
	return true
}
