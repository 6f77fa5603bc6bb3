package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/permission"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("chatty", "json", &buf)

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	logger.WithField("module", "forum").Info("hello")
	assert.Contains(t, buf.String(), `"module":"forum"`)

	debug := NewLogger("debug", "text", &buf)
	assert.Equal(t, logrus.DebugLevel, debug.GetLevel())
}

func TestMetricsObserverCounts(t *testing.T) {
	m := NewMetrics(nil)

	m.InteractionRecorded(permission.ModuleWiki, "helpful", "added")
	m.InteractionRecorded(permission.ModuleWiki, "helpful", "added")
	m.ViewRecorded(permission.ModuleDex, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.InteractionsTotal.WithLabelValues("wiki", "helpful", "added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ViewsTotal.WithLabelValues("dex", "false")))
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(nil)

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/forum/posts/:slug", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	for _, slug := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/forum/posts/"+slug, nil))
	}

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/forum/posts/:slug", "404"))
	assert.Equal(t, 3.0, count)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "monsterhub_http_requests_total"))
}
