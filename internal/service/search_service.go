package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"gorm.io/gorm"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
	maxQueryRunes      = 100
	defaultPopularSize = 256
	defaultPopularTTL  = time.Hour
)

// SearchHit 是跨板块搜索的单条结果。
type SearchHit struct {
	Module    permission.Module `json:"module"`
	Slug      string            `json:"slug"`
	Title     string            `json:"title"`
	Excerpt   string            `json:"excerpt"`
	Category  string            `json:"category"`
	CreatedAt time.Time         `json:"createdAt"`
}

// PopularQuery 是热门搜索词及其次数。
type PopularQuery struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// PopularQueries 记录近期搜索词的次数。容量与过期时间固定，
// 仅用于展示，丢失或被淘汰都不影响搜索结果。
type PopularQueries struct {
	mu    sync.Mutex
	cache *lru.LRU[string, int]
}

// NewPopularQueries creates a tracker holding at most size queries for ttl.
func NewPopularQueries(size int, ttl time.Duration) *PopularQueries {
	if size <= 0 {
		size = defaultPopularSize
	}
	if ttl <= 0 {
		ttl = defaultPopularTTL
	}
	return &PopularQueries{cache: lru.NewLRU[string, int](size, nil, ttl)}
}

// Record 增加一次计数。
func (p *PopularQueries) Record(query string) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	count, _ := p.cache.Get(key)
	p.cache.Add(key, count+1)
}

// Top 返回次数最多的 n 个搜索词。
func (p *PopularQueries) Top(n int) []PopularQuery {
	p.mu.Lock()
	keys := p.cache.Keys()
	out := make([]PopularQuery, 0, len(keys))
	for _, key := range keys {
		if count, ok := p.cache.Peek(key); ok {
			out = append(out, PopularQuery{Query: key, Count: count})
		}
	}
	p.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Query < out[j].Query
		}
		return out[i].Count > out[j].Count
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// SearchService 在所有板块的已发布内容中做简单的子串搜索。
type SearchService struct {
	db      *gorm.DB
	popular *PopularQueries
}

// NewSearchService creates a SearchService.
func NewSearchService(gdb *gorm.DB, popular *PopularQueries) *SearchService {
	if popular == nil {
		popular = NewPopularQueries(defaultPopularSize, defaultPopularTTL)
	}
	return &SearchService{db: gdb, popular: popular}
}

// Search 返回匹配的已发布内容。module 为空时搜索全部板块。
func (s *SearchService) Search(ctx context.Context, query string, module permission.Module, limit int) ([]SearchHit, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, invalidField("q", "is required")
	}
	if utf8.RuneCountInString(trimmed) > maxQueryRunes {
		return nil, invalidField("q", "is too long")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	pattern := "%" + escapeLike(strings.ToLower(trimmed)) + "%"
	q := s.db.WithContext(ctx).
		Model(&db.ContentItem{}).
		Select("module, slug, title, excerpt, category, created_at").
		Where("is_deleted = ? AND status = ?", false, db.StatusPublished).
		Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(excerpt) LIKE ? ESCAPE '\' OR LOWER(body) LIKE ? ESCAPE '\')`,
			pattern, pattern, pattern)
	if module != "" {
		q = q.Where("module = ?", module)
	}

	hits := []SearchHit{}
	if err := q.Order("stats_views_count desc").Order("created_at desc").Limit(limit).Scan(&hits).Error; err != nil {
		return nil, wrapStorageError(err)
	}

	s.popular.Record(trimmed)
	return hits, nil
}

// Popular 返回热门搜索词。
func (s *SearchService) Popular(n int) []PopularQuery {
	return s.popular.Top(n)
}
