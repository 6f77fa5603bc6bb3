package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxTitleRunes   = 200
	maxTags         = 10
	maxTagRunes     = 32

	// 并发创建同名内容时，唯一索引冲突后重新计算 slug 的次数上限
	maxSlugAttempts = 5

	// StatusAll 表示不过滤状态，仅供有草稿查看权限的调用方使用。
	StatusAll = "all"
)

// 排序方式
const (
	SortLatest  = "latest"
	SortOldest  = "oldest"
	SortPopular = "popular"
	SortViews   = "views"
	SortUpdated = "updated"
)

var sortOrders = map[string][]string{
	SortLatest:  {"contents.created_at desc", "contents.id desc"},
	SortOldest:  {"contents.created_at asc", "contents.id asc"},
	SortPopular: {"contents.stats_likes_count desc", "contents.stats_views_count desc", "contents.created_at desc"},
	SortViews:   {"contents.stats_views_count desc", "contents.created_at desc"},
	SortUpdated: {"contents.updated_at desc", "contents.id desc"},
}

// ContentService 是单个板块的内容仓库：增删改查、分页筛选与 slug 唯一性维护。
// 调用方需先通过 permission 包完成权限判断。
type ContentService struct {
	db     *gorm.DB
	module permission.Module
	ledger *InteractionService
	now    func() time.Time
}

// Author 是创建内容时写入的作者快照。
type Author struct {
	ID     string
	Name   string
	Avatar string
}

// ContentInput 为创建内容时接受的字段。
type ContentInput struct {
	Title      string
	Body       string
	Excerpt    string
	Category   string
	CoverURL   string
	Status     string
	Tags       []string
	Attributes map[string]any
}

// ContentPatch 为部分更新，nil 字段保持不变。
type ContentPatch struct {
	Title      *string
	Body       *string
	Excerpt    *string
	Category   *string
	CoverURL   *string
	Status     *string
	Tags       *[]string
	Attributes map[string]any
}

// UpdateResult 描述一次更新的结果。
type UpdateResult struct {
	Item         *db.ContentItem
	SlugChanged  bool
	PreviousSlug string
}

// ContentFilter 描述列表筛选条件。
type ContentFilter struct {
	Category string
	Search   string
	Status   string
	Tags     []string
	Author   string
	Sort     string
	Page     int
	Limit    int
	ViewerID string
}

// PageInfo 是分页信息。
type PageInfo struct {
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
	HasNext bool  `json:"hasNext"`
	HasPrev bool  `json:"hasPrev"`
}

// ContentListResult 聚合分页数据。
type ContentListResult struct {
	Items      []db.ContentItem
	Pagination PageInfo
}

// ModuleStats 汇总一个板块的内容数量与互动计数。
type ModuleStats struct {
	Module         permission.Module `json:"module"`
	Total          int64             `json:"total"`
	Published      int64             `json:"published"`
	Drafts         int64             `json:"drafts"`
	Archived       int64             `json:"archived"`
	ViewsCount     int64             `json:"viewsCount"`
	LikesCount     int64             `json:"likesCount"`
	BookmarksCount int64             `json:"bookmarksCount"`
	SharesCount    int64             `json:"sharesCount"`
	HelpfulsCount  int64             `json:"helpfulsCount"`
}

// NewContentService creates a ContentService for one module.
func NewContentService(gdb *gorm.DB, module permission.Module, ledger *InteractionService) *ContentService {
	return &ContentService{db: gdb, module: module, ledger: ledger, now: time.Now}
}

// Module 返回仓库所属板块。
func (s *ContentService) Module() permission.Module {
	return s.module
}

// GetBySlug 按 slug 读取未删除的内容。includeAllStatuses 为 false 时非 published 内容视为不存在。
// viewerID 非空时附带该用户的互动状态。
func (s *ContentService) GetBySlug(ctx context.Context, slug, viewerID string, includeAllStatuses bool) (*db.ContentItem, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrNotFound
	}

	query := s.db.WithContext(ctx).
		Preload("Tags").
		Where("module = ? AND slug = ? AND is_deleted = ?", s.module, slug, false)
	if !includeAllStatuses {
		query = query.Where("status = ?", db.StatusPublished)
	}

	var item db.ContentItem
	if err := query.First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapStorageError(err)
	}
	item.PopulateDerivedFields()

	if viewerID != "" && s.ledger != nil {
		state, err := s.ledger.State(ctx, viewerID, item.ID)
		if err != nil {
			return nil, err
		}
		item.Interactions = &state
	}

	return &item, nil
}

// Create 新建内容，生成唯一 slug，计数清零。
func (s *ContentService) Create(ctx context.Context, input ContentInput, author Author) (*db.ContentItem, error) {
	if strings.TrimSpace(author.ID) == "" {
		return nil, ErrAuthenticationRequired
	}

	title := strings.TrimSpace(input.Title)
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = db.StatusPublished
	}
	tags := normalizeTags(input.Tags)

	verr := &ValidationError{}
	validateTitle(verr, title)
	validateStatus(verr, status)
	validateTags(verr, tags)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	excerpt := strings.TrimSpace(input.Excerpt)
	if excerpt == "" {
		excerpt = summarizeContent(input.Body, excerptLimit)
	}

	now := s.now()
	item := db.ContentItem{
		ID:              uuid.NewString(),
		Module:          s.module,
		Title:           title,
		Body:            input.Body,
		Excerpt:         excerpt,
		MetaDescription: summarizeContent(input.Body, metaDescriptionLimit),
		Category:        strings.TrimSpace(input.Category),
		CoverURL:        strings.TrimSpace(input.CoverURL),
		Attributes:      db.Attributes(input.Attributes),
		Author: db.ContentAuthor{
			ID:     author.ID,
			Name:   strings.TrimSpace(author.Name),
			Avatar: strings.TrimSpace(author.Avatar),
		},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	base := baseSlug(title)
	err := s.retryOnSlugConflict(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			slug, err := s.nextFreeSlug(tx, base, "")
			if err != nil {
				return err
			}
			item.Slug = slug

			if err := tx.Omit("Tags").Create(&item).Error; err != nil {
				return err
			}
			if len(tags) == 0 {
				return nil
			}
			return s.replaceTags(tx, &item, tags)
		})
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}

	item.PopulateDerivedFields()
	return &item, nil
}

// Update 对 slug 对应的内容做部分更新。写入以"仍存在且未删除"为条件，
// 若在权限判断之后内容被删除，返回 ErrNotFound。
func (s *ContentService) Update(ctx context.Context, slug string, patch ContentPatch, actor *permission.Principal) (*UpdateResult, error) {
	verr := &ValidationError{}
	if patch.Title != nil {
		validateTitle(verr, strings.TrimSpace(*patch.Title))
	}
	if patch.Status != nil {
		validateStatus(verr, strings.TrimSpace(*patch.Status))
	}
	var tags []string
	if patch.Tags != nil {
		tags = normalizeTags(*patch.Tags)
		validateTags(verr, tags)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	var result *UpdateResult
	err := s.retryOnSlugConflict(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current db.ContentItem
			if err := tx.Where("module = ? AND slug = ? AND is_deleted = ?", s.module, strings.TrimSpace(slug), false).
				First(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}

			res := &UpdateResult{PreviousSlug: current.Slug}
			updates := map[string]interface{}{
				"updated_at": s.now(),
			}
			if actor != nil {
				updates["edited_by"] = actor.ID
			}

			if patch.Title != nil {
				title := strings.TrimSpace(*patch.Title)
				if title != current.Title {
					updates["title"] = title
					nextSlug, err := s.nextFreeSlug(tx, baseSlug(title), current.ID)
					if err != nil {
						return err
					}
					if nextSlug != current.Slug {
						updates["slug"] = nextSlug
						res.SlugChanged = true
					}
				}
			}

			if patch.Body != nil && *patch.Body != current.Body {
				updates["body"] = *patch.Body
				updates["meta_description"] = summarizeContent(*patch.Body, metaDescriptionLimit)
				// 摘要原本由正文生成时随正文一起刷新
				if patch.Excerpt == nil && current.Excerpt == summarizeContent(current.Body, excerptLimit) {
					updates["excerpt"] = summarizeContent(*patch.Body, excerptLimit)
				}
			}
			if patch.Excerpt != nil {
				excerpt := strings.TrimSpace(*patch.Excerpt)
				if excerpt == "" {
					body := current.Body
					if patch.Body != nil {
						body = *patch.Body
					}
					excerpt = summarizeContent(body, excerptLimit)
				}
				updates["excerpt"] = excerpt
			}
			if patch.Category != nil {
				updates["category"] = strings.TrimSpace(*patch.Category)
			}
			if patch.CoverURL != nil {
				updates["cover_url"] = strings.TrimSpace(*patch.CoverURL)
			}
			if patch.Status != nil {
				updates["status"] = strings.TrimSpace(*patch.Status)
			}
			if patch.Attributes != nil {
				updates["attributes"] = db.Attributes(patch.Attributes)
			}

			write := tx.Model(&db.ContentItem{}).
				Where("id = ? AND is_deleted = ?", current.ID, false).
				Updates(updates)
			if write.Error != nil {
				return write.Error
			}
			if write.RowsAffected == 0 {
				return ErrNotFound
			}

			if patch.Tags != nil {
				if err := s.replaceTags(tx, &current, tags); err != nil {
					return err
				}
			}

			var updated db.ContentItem
			if err := tx.Preload("Tags").First(&updated, "id = ?", current.ID).Error; err != nil {
				return err
			}
			updated.PopulateDerivedFields()
			res.Item = &updated
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}
	return result, nil
}

// Delete 软删除内容：只标记 is_deleted，不做物理删除。
func (s *ContentService) Delete(ctx context.Context, slug string, actor *permission.Principal) error {
	updates := map[string]interface{}{
		"is_deleted": true,
		"deleted_at": s.now(),
	}
	if actor != nil {
		updates["deleted_by"] = actor.ID
	}

	res := s.db.WithContext(ctx).
		Model(&db.ContentItem{}).
		Where("module = ? AND slug = ? AND is_deleted = ?", s.module, strings.TrimSpace(slug), false).
		Updates(updates)
	if res.Error != nil {
		return wrapStorageError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List 返回分页后的内容列表。Status 为空时只返回 published，StatusAll 表示不过滤。
func (s *ContentService) List(ctx context.Context, filter ContentFilter) (*ContentListResult, error) {
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	sort := strings.TrimSpace(filter.Sort)
	if sort == "" {
		sort = SortLatest
	}
	orders, ok := sortOrders[sort]
	if !ok {
		return nil, invalidField("sortBy", "unsupported sort option")
	}

	status := strings.TrimSpace(filter.Status)
	if status == "" {
		status = db.StatusPublished
	}
	if status != StatusAll && !validStatus(status) {
		return nil, invalidField("status", "unsupported status")
	}

	result := &ContentListResult{Pagination: PageInfo{Page: page, Limit: limit}}

	countQuery := s.applyFilters(s.db.WithContext(ctx).Model(&db.ContentItem{}), filter, status)
	if err := countQuery.Count(&result.Pagination.Total).Error; err != nil {
		return nil, wrapStorageError(err)
	}

	total := result.Pagination.Total
	pages := int((total + int64(limit) - 1) / int64(limit))
	// 超出末页的页码收敛到末页，同时避免 offset 溢出
	if last := max(pages, 1); page > last {
		page = last
	}
	result.Pagination.Page = page

	dataQuery := s.applyFilters(s.db.WithContext(ctx).Model(&db.ContentItem{}).Preload("Tags"), filter, status)
	for _, order := range orders {
		dataQuery = dataQuery.Order(order)
	}

	var items []db.ContentItem
	if err := dataQuery.Limit(limit).Offset((page - 1) * limit).Find(&items).Error; err != nil {
		return nil, wrapStorageError(err)
	}

	for i := range items {
		items[i].PopulateDerivedFields()
	}

	if filter.ViewerID != "" && s.ledger != nil && len(items) > 0 {
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		states, err := s.ledger.StateMap(ctx, filter.ViewerID, ids)
		if err != nil {
			return nil, err
		}
		for i := range items {
			state := states[items[i].ID]
			items[i].Interactions = &state
		}
	}

	result.Pagination.Pages = pages
	result.Pagination.HasNext = page < pages
	result.Pagination.HasPrev = page > 1
	result.Items = items
	return result, nil
}

// Stats 汇总板块下未删除内容的数量与计数。
func (s *ContentService) Stats(ctx context.Context) (*ModuleStats, error) {
	var rows []struct {
		Status    string
		Count     int64
		Views     int64
		Likes     int64
		Bookmarks int64
		Shares    int64
		Helpfuls  int64
	}

	if err := s.db.WithContext(ctx).
		Model(&db.ContentItem{}).
		Select("status, COUNT(*) AS count, " +
			"COALESCE(SUM(stats_views_count), 0) AS views, " +
			"COALESCE(SUM(stats_likes_count), 0) AS likes, " +
			"COALESCE(SUM(stats_bookmarks_count), 0) AS bookmarks, " +
			"COALESCE(SUM(stats_shares_count), 0) AS shares, " +
			"COALESCE(SUM(stats_helpfuls_count), 0) AS helpfuls").
		Where("module = ? AND is_deleted = ?", s.module, false).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, wrapStorageError(err)
	}

	stats := &ModuleStats{Module: s.module}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case db.StatusPublished:
			stats.Published += row.Count
		case db.StatusDraft:
			stats.Drafts += row.Count
		case db.StatusArchived:
			stats.Archived += row.Count
		}
		stats.ViewsCount += row.Views
		stats.LikesCount += row.Likes
		stats.BookmarksCount += row.Bookmarks
		stats.SharesCount += row.Shares
		stats.HelpfulsCount += row.Helpfuls
	}
	return stats, nil
}

func (s *ContentService) applyFilters(query *gorm.DB, filter ContentFilter, status string) *gorm.DB {
	query = query.Where("contents.module = ? AND contents.is_deleted = ?", s.module, false)

	if status != StatusAll {
		query = query.Where("contents.status = ?", status)
	}

	if category := strings.TrimSpace(filter.Category); category != "" {
		query = query.Where("contents.category = ?", category)
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		query = query.Where(
			`(LOWER(contents.title) LIKE ? ESCAPE '\' OR LOWER(contents.excerpt) LIKE ? ESCAPE '\' OR LOWER(contents.body) LIKE ? ESCAPE '\')`,
			pattern, pattern, pattern,
		)
	}

	if author := strings.TrimSpace(filter.Author); author != "" {
		query = query.Where("(contents.author_id = ? OR contents.author_name = ?)", author, author)
	}

	if tags := normalizeTags(filter.Tags); len(tags) > 0 {
		subQuery := s.db.Table("content_tags").
			Select("content_tags.content_item_id").
			Joins("JOIN tags ON tags.id = content_tags.tag_id").
			Where("tags.name IN ?", tags)
		query = query.Where("contents.id IN (?)", subQuery)
	}

	return query
}

// nextFreeSlug 返回 base 或 base-N 中第一个未被本板块未删除内容占用的 slug。
// excludeID 用于更新时排除自身。
func (s *ContentService) nextFreeSlug(tx *gorm.DB, base, excludeID string) (string, error) {
	query := tx.Model(&db.ContentItem{}).
		Where("module = ? AND is_deleted = ?", s.module, false).
		Where("(slug = ? OR slug LIKE ?)", base, base+"-%")
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var taken []string
	if err := query.Pluck("slug", &taken).Error; err != nil {
		return "", err
	}

	used := make(map[string]struct{}, len(taken))
	for _, slug := range taken {
		used[slug] = struct{}{}
	}

	if _, exists := used[base]; !exists {
		return base, nil
	}
	for n := 1; n <= len(taken)+1; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, exists := used[candidate]; !exists {
			return candidate, nil
		}
	}
	return "", ErrConflict
}

// retryOnSlugConflict 在唯一索引冲突（并发写入同一 slug）时重跑 fn。
func (s *ContentService) retryOnSlugConflict(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		err = fn()
		if !isDuplicateKey(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

func (s *ContentService) replaceTags(tx *gorm.DB, item *db.ContentItem, names []string) error {
	tags := []db.Tag{}
	if len(names) > 0 {
		rows := make([]db.Tag, 0, len(names))
		for _, name := range names {
			rows = append(rows, db.Tag{Name: name})
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&rows).Error; err != nil {
			return err
		}
		if err := tx.Where("name IN ?", names).Order("name asc").Find(&tags).Error; err != nil {
			return err
		}
	}

	if err := tx.Model(item).Association("Tags").Replace(tags); err != nil {
		return err
	}
	item.Tags = tags
	return nil
}

func normalizeTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, tag := range raw {
		name := strings.ToLower(strings.TrimSpace(tag))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func validateTitle(verr *ValidationError, title string) {
	switch {
	case title == "":
		verr.Add("title", "is required")
	case utf8.RuneCountInString(title) > maxTitleRunes:
		verr.Add("title", fmt.Sprintf("must be at most %d characters", maxTitleRunes))
	}
}

func validateStatus(verr *ValidationError, status string) {
	if !validStatus(status) {
		verr.Add("status", "must be one of draft, published, archived")
	}
}

func validateTags(verr *ValidationError, tags []string) {
	if len(tags) > maxTags {
		verr.Add("tags", fmt.Sprintf("at most %d tags", maxTags))
		return
	}
	for _, tag := range tags {
		if utf8.RuneCountInString(tag) > maxTagRunes {
			verr.Add("tags", fmt.Sprintf("tag %q is longer than %d characters", tag, maxTagRunes))
			return
		}
	}
}

func validStatus(status string) bool {
	switch status {
	case db.StatusDraft, db.StatusPublished, db.StatusArchived:
		return true
	}
	return false
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return replacer.Replace(value)
}
