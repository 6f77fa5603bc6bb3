package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"github.com/monsterhub/internal/service"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// contentStore 是路由层依赖的内容仓库接口，测试中可替换为 spy。
type contentStore interface {
	Module() permission.Module
	GetBySlug(ctx context.Context, slug, viewerID string, includeAllStatuses bool) (*db.ContentItem, error)
	Create(ctx context.Context, input service.ContentInput, author service.Author) (*db.ContentItem, error)
	Update(ctx context.Context, slug string, patch service.ContentPatch, actor *permission.Principal) (*service.UpdateResult, error)
	Delete(ctx context.Context, slug string, actor *permission.Principal) error
	List(ctx context.Context, filter service.ContentFilter) (*service.ContentListResult, error)
	Stats(ctx context.Context) (*service.ModuleStats, error)
}

type interactionLedger interface {
	Toggle(ctx context.Context, module permission.Module, userID, contentID, action string) (*service.InteractionResult, error)
	Set(ctx context.Context, module permission.Module, userID, contentID, action string, active bool) (*service.InteractionResult, error)
	RecordView(ctx context.Context, module permission.Module, userID, contentID string) error
	State(ctx context.Context, userID, contentID string) (db.InteractionState, error)
}

// collectionPaths 是各板块在 API 中的集合名。
var collectionPaths = map[permission.Module]string{
	permission.ModuleForum: "posts",
	permission.ModuleBlog:  "posts",
	permission.ModuleWiki:  "guides",
	permission.ModuleDex:   "monsters",
}

// CollectionPath 返回板块的集合路径，如 /api/wiki/guides 中的 guides。
func CollectionPath(module permission.Module) string {
	return collectionPaths[module]
}

const defaultRequestTimeout = 5 * time.Second

// Options 配置 API 的可选依赖。
type Options struct {
	Logger         *logrus.Logger
	StoreTimeout   time.Duration
	Observer       service.InteractionObserver
	PopularQueries *service.PopularQueries
	Resolver       PrincipalResolver
	OAuth          *service.OAuthClient
	SiteBaseURL    string
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db       *gorm.DB
	stores   map[permission.Module]contentStore
	ledger   interactionLedger
	users    *service.UserService
	tags     *service.TagService
	search   *service.SearchService
	resolver PrincipalResolver
	oauth    *service.OAuthClient
	logger   *logrus.Logger
	timeout  time.Duration
	baseURL  string
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, opts Options) *API {
	ledger := service.NewInteractionService(gdb)
	if opts.Observer != nil {
		ledger.WithObserver(opts.Observer)
	}

	stores := make(map[permission.Module]contentStore, len(permission.Modules))
	for _, module := range permission.Modules {
		stores[module] = service.NewContentService(gdb, module, ledger)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := opts.StoreTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	users := service.NewUserService(gdb)
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewSessionResolver(users)
	}

	return &API{
		db:       gdb,
		stores:   stores,
		ledger:   ledger,
		users:    users,
		tags:     service.NewTagService(gdb),
		search:   service.NewSearchService(gdb, opts.PopularQueries),
		resolver: resolver,
		oauth:    opts.OAuth,
		logger:   logger,
		timeout:  timeout,
		baseURL:  opts.SiteBaseURL,
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}

// Users 返回用户服务，供启动流程创建超级管理员。
func (a *API) Users() *service.UserService {
	return a.users
}

func (a *API) store(module permission.Module) contentStore {
	return a.stores[module]
}

// requestContext 为存储调用附加超时。
func (a *API) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), a.timeout)
}
