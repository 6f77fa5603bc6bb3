package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"github.com/monsterhub/internal/service"
	"github.com/sirupsen/logrus"
)

type contentRequest struct {
	Title      string                 `json:"title"`
	Name       string                 `json:"name"`
	Body       string                 `json:"body"`
	Excerpt    string                 `json:"excerpt"`
	Category   string                 `json:"category"`
	CoverURL   string                 `json:"coverUrl"`
	Status     string                 `json:"status"`
	Tags       []string               `json:"tags"`
	Attributes map[string]interface{} `json:"attributes"`
}

type contentPatchRequest struct {
	Title      *string                `json:"title"`
	Name       *string                `json:"name"`
	Body       *string                `json:"body"`
	Excerpt    *string                `json:"excerpt"`
	Category   *string                `json:"category"`
	CoverURL   *string                `json:"coverUrl"`
	Status     *string                `json:"status"`
	Tags       *[]string              `json:"tags"`
	Attributes map[string]interface{} `json:"attributes"`
}

// title 兼容图鉴使用的 name 字段。
func (r contentRequest) title() string {
	if strings.TrimSpace(r.Title) != "" {
		return r.Title
	}
	return r.Name
}

func (r contentPatchRequest) patch() service.ContentPatch {
	title := r.Title
	if title == nil {
		title = r.Name
	}
	return service.ContentPatch{
		Title:      title,
		Body:       r.Body,
		Excerpt:    r.Excerpt,
		Category:   r.Category,
		CoverURL:   r.CoverURL,
		Status:     r.Status,
		Tags:       r.Tags,
		Attributes: r.Attributes,
	}
}

func setCacheTags(c *gin.Context, module permission.Module, slugs ...string) {
	tags := []string{string(module)}
	seen := map[string]bool{}
	for _, slug := range slugs {
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		tags = append(tags, fmt.Sprintf("%s:%s", module, slug))
	}
	c.Header("Cache-Tag", strings.Join(tags, ", "))
}

// ListContent 返回板块内容列表。请求非 published 状态需要草稿查看权限。
func (a *API) ListContent(module permission.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := currentPrincipal(c)

		status := strings.TrimSpace(c.Query("status"))
		if status != "" && status != db.StatusPublished && !permission.CanViewDrafts(principal, module) {
			respondError(c, http.StatusForbidden, "没有权限查看草稿")
			return
		}

		filter := service.ContentFilter{
			Category: c.Query("category"),
			Search:   c.Query("search"),
			Status:   status,
			Tags:     parseListQuery(c, "tags"),
			Author:   c.Query("author"),
			Sort:     c.Query("sortBy"),
			Page:     parseIntQuery(c, "page", 1),
			Limit:    parseIntQuery(c, "limit", 0),
			ViewerID: viewerID(c),
		}

		ctx, cancel := a.requestContext(c)
		defer cancel()

		result, err := a.store(module).List(ctx, filter)
		if err != nil {
			a.writeServiceError(c, err, logrus.Fields{"module": module})
			return
		}

		setCacheTags(c, module)
		respondOK(c, http.StatusOK, gin.H{
			"items":      result.Items,
			"pagination": result.Pagination,
			"filters": gin.H{
				"category": filter.Category,
				"search":   filter.Search,
				"status":   filter.Status,
				"tags":     filter.Tags,
				"author":   filter.Author,
				"sortBy":   filter.Sort,
			},
		})
	}
}

// GetContent 按 slug 返回内容详情，并记录一次浏览。
// 隐藏的草稿与不存在的内容同样返回 404。
func (a *API) GetContent(module permission.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := currentPrincipal(c)
		slug := c.Param("slug")
		viewer := viewerID(c)

		ctx, cancel := a.requestContext(c)
		defer cancel()

		item, err := a.store(module).GetBySlug(ctx, slug, viewer, permission.CanViewDrafts(principal, module))
		if err != nil {
			a.writeServiceError(c, err, logrus.Fields{"module": module, "slug": slug})
			return
		}

		// 浏览计数属于统计，失败只记日志
		if err := a.ledger.RecordView(ctx, module, viewer, item.ID); err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"module":  module,
				"slug":    slug,
				"user_id": viewer,
			}).Warn("record view failed")
		}

		bodyHTML, err := service.RenderMarkdown(item.Body)
		if err != nil {
			a.logger.WithError(err).WithField("slug", slug).Warn("render markdown failed")
			bodyHTML = ""
		}

		setCacheTags(c, module, item.Slug)
		respondOK(c, http.StatusOK, gin.H{
			"item":         item,
			"bodyHtml":     bodyHTML,
			"capabilities": permission.For(principal, module, item),
		})
	}
}

// CreateContent 新建内容。
func (a *API) CreateContent(module permission.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		viewer := currentViewer(c)
		if viewer == nil {
			respondError(c, http.StatusUnauthorized, "请先登录")
			return
		}
		if !permission.CanCreate(&viewer.Principal, module) {
			respondError(c, http.StatusForbidden, "没有权限发布内容")
			return
		}

		var req contentRequest
		if !bindJSON(c, &req, "请求格式错误") {
			return
		}

		ctx, cancel := a.requestContext(c)
		defer cancel()

		item, err := a.store(module).Create(ctx, service.ContentInput{
			Title:      req.title(),
			Body:       req.Body,
			Excerpt:    req.Excerpt,
			Category:   req.Category,
			CoverURL:   req.CoverURL,
			Status:     req.Status,
			Tags:       req.Tags,
			Attributes: req.Attributes,
		}, service.Author{
			ID:     viewer.Principal.ID,
			Name:   viewer.Name,
			Avatar: viewer.Avatar,
		})
		if err != nil {
			a.writeServiceError(c, err, logrus.Fields{"module": module, "user_id": viewer.Principal.ID})
			return
		}

		a.logger.WithFields(logrus.Fields{
			"module":  module,
			"slug":    item.Slug,
			"user_id": viewer.Principal.ID,
		}).Info("content created")

		setCacheTags(c, module, item.Slug)
		respondMessage(c, http.StatusCreated, "发布成功", gin.H{"item": item})
	}
}

// UpdateContent 部分更新内容。内容存在但无编辑权限时返回 403，且不会调用仓库的更新。
func (a *API) UpdateContent(module permission.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := currentPrincipal(c)
		if principal == nil {
			respondError(c, http.StatusUnauthorized, "请先登录")
			return
		}
		slug := c.Param("slug")

		ctx, cancel := a.requestContext(c)
		defer cancel()

		store := a.store(module)
		current, err := store.GetBySlug(ctx, slug, "", true)
		if err != nil {
			a.writeServiceError(c, err, logrus.Fields{"module": module, "slug": slug})
			return
		}
		if !permission.CanEdit(principal, module, current) {
			respondError(c, http.StatusForbidden, "没有权限编辑该内容")
			return
		}

		var req contentPatchRequest
		if !bindJSON(c, &req, "请求格式错误") {
			return
		}

		result, err := store.Update(ctx, slug, req.patch(), principal)
		if err != nil {
			a.writeServiceError(c, err, logrus.Fields{"module": module, "slug": slug, "user_id": principal.ID})
			return
		}

		setCacheTags(c, module, result.PreviousSlug, result.Item.Slug)
		respondMessage(c, http.StatusOK, "更新成功", gin.H{
			"item":         result.Item,
			"slugChanged":  result.SlugChanged,
			"newSlug":      result.Item.Slug,
			"previousSlug": result.PreviousSlug,
		})
	}
}

// DeleteContent 软删除内容。
func (a *API) DeleteContent(module permission.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := currentPrincipal(c)
		if principal == nil {
			respondError(c, http.StatusUnauthorized, "请先登录")
			return
		}
		slug := c.Param("slug")

		ctx, cancel := a.requestContext(c)
		defer cancel()

		store := a.store(module)
		current, err := store.GetBySlug(ctx, slug, "", true)
		if err != nil {
			a.writeServiceError(c, err, logrus.Fields{"module": module, "slug": slug})
			return
		}
		if !permission.CanDelete(principal, module, current) {
			respondError(c, http.StatusForbidden, "没有权限删除该内容")
			return
		}

		if err := store.Delete(ctx, slug, principal); err != nil {
			a.writeServiceError(c, err, logrus.Fields{"module": module, "slug": slug, "user_id": principal.ID})
			return
		}

		a.logger.WithFields(logrus.Fields{
			"module":  module,
			"slug":    slug,
			"user_id": principal.ID,
		}).Info("content deleted")

		setCacheTags(c, module, slug)
		respondMessage(c, http.StatusOK, "删除成功", nil)
	}
}
