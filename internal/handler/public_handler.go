package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/permission"
	"github.com/sirupsen/logrus"
)

const defaultPopularLimit = 10

// GetTags 返回板块已发布内容的标签使用统计。
func (a *API) GetTags(module permission.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := a.requestContext(c)
		defer cancel()

		tags, err := a.tags.PublishedUsage(ctx, module)
		if err != nil {
			a.writeServiceError(c, err, logrus.Fields{"module": module})
			return
		}

		setCacheTags(c, module)
		respondOK(c, http.StatusOK, gin.H{"tags": tags})
	}
}

// GetStats 返回板块的内容数量与互动计数汇总。
func (a *API) GetStats(c *gin.Context) {
	module, ok := permission.ParseModule(c.Param("type"))
	if !ok {
		respondError(c, http.StatusNotFound, "板块不存在")
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	stats, err := a.store(module).Stats(ctx)
	if err != nil {
		a.writeServiceError(c, err, logrus.Fields{"module": module})
		return
	}
	respondOK(c, http.StatusOK, stats)
}

// Search 跨板块搜索已发布内容。
func (a *API) Search(c *gin.Context) {
	var module permission.Module
	if raw := c.Query("type"); raw != "" {
		parsed, ok := permission.ParseModule(raw)
		if !ok {
			respondError(c, http.StatusBadRequest, "不支持的内容类型")
			return
		}
		module = parsed
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	hits, err := a.search.Search(ctx, c.Query("q"), module, parseIntQuery(c, "limit", 0))
	if err != nil {
		a.writeServiceError(c, err, logrus.Fields{"query": c.Query("q")})
		return
	}
	respondOK(c, http.StatusOK, gin.H{"query": c.Query("q"), "results": hits})
}

// PopularSearches 返回近期热门搜索词。
func (a *API) PopularSearches(c *gin.Context) {
	limit := parseIntQuery(c, "limit", defaultPopularLimit)
	respondOK(c, http.StatusOK, gin.H{"queries": a.search.Popular(limit)})
}
