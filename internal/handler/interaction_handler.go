package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"github.com/monsterhub/internal/service"
	"github.com/sirupsen/logrus"
)

type interactionRequest struct {
	Action string `json:"action"`
	// Active 存在时按目标状态设置（可安全重试），缺省时切换
	Active *bool `json:"active"`
}

// resolveInteractionTarget 解析 :type/:slug 指向的内容。
func (a *API) resolveInteractionTarget(c *gin.Context) (permission.Module, *db.ContentItem, bool) {
	module, ok := permission.ParseModule(c.Param("type"))
	if !ok {
		respondError(c, http.StatusNotFound, "内容不存在")
		return "", nil, false
	}

	slug := c.Param("slug")
	ctx, cancel := a.requestContext(c)
	defer cancel()

	item, err := a.store(module).GetBySlug(ctx, slug, "", permission.CanViewDrafts(currentPrincipal(c), module))
	if err != nil {
		a.writeServiceError(c, err, logrus.Fields{"module": module, "slug": slug})
		return "", nil, false
	}
	return module, item, true
}

// RecordInteraction 处理点赞、收藏、分享与有帮助。
func (a *API) RecordInteraction(c *gin.Context) {
	viewer := currentViewer(c)
	if viewer == nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	var req interactionRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}

	module, ok := permission.ParseModule(c.Param("type"))
	if !ok {
		respondError(c, http.StatusNotFound, "内容不存在")
		return
	}
	if err := service.ValidateAction(module, req.Action); err != nil {
		a.writeServiceError(c, err, nil)
		return
	}

	module, item, ok := a.resolveInteractionTarget(c)
	if !ok {
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	var (
		result *service.InteractionResult
		err    error
	)
	if req.Active != nil {
		result, err = a.ledger.Set(ctx, module, viewer.Principal.ID, item.ID, req.Action, *req.Active)
	} else {
		result, err = a.ledger.Toggle(ctx, module, viewer.Principal.ID, item.ID, req.Action)
	}
	if err != nil {
		a.writeServiceError(c, err, logrus.Fields{
			"module":  module,
			"slug":    item.Slug,
			"action":  req.Action,
			"user_id": viewer.Principal.ID,
		})
		return
	}

	setCacheTags(c, module, item.Slug)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": interactionMessage(req.Action, result.Action),
		"data":    result,
	})
}

// GetInteractionState 返回当前用户的互动状态，匿名时全部为 false。
func (a *API) GetInteractionState(c *gin.Context) {
	module, item, ok := a.resolveInteractionTarget(c)
	if !ok {
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	state, err := a.ledger.State(ctx, viewerID(c), item.ID)
	if err != nil {
		a.writeServiceError(c, err, logrus.Fields{"module": module, "slug": item.Slug})
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"interactions": state,
		"stats":        item.Stats,
	})
}

var actionLabels = map[string]string{
	db.ActionLike:     "点赞",
	db.ActionBookmark: "收藏",
	db.ActionShare:    "分享",
	db.ActionHelpful:  "标记有帮助",
}

func interactionMessage(action, outcome string) string {
	label := actionLabels[action]
	switch outcome {
	case service.OutcomeAdded:
		return "已" + label
	case service.OutcomeRemoved:
		return "已取消" + label
	default:
		return label + "状态未变化"
	}
}
