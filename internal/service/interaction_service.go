package service

import (
	"context"
	"errors"

	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 互动结果
const (
	OutcomeAdded     = "added"
	OutcomeRemoved   = "removed"
	OutcomeUnchanged = "unchanged"
)

// 并发切换时，记录在"查到存在"与"删除"之间被他人删掉，需要重来。
const maxToggleAttempts = 3

var errToggleRace = errors.New("interaction changed concurrently")

// counterColumns 将互动类型映射到 contents 表上的计数列。
var counterColumns = map[string]string{
	db.ActionLike:     "stats_likes_count",
	db.ActionBookmark: "stats_bookmarks_count",
	db.ActionShare:    "stats_shares_count",
	db.ActionHelpful:  "stats_helpfuls_count",
	db.ActionView:     "stats_views_count",
}

// helpfulModules 是支持"有帮助"互动的板块。
var helpfulModules = map[permission.Module]bool{
	permission.ModuleWiki: true,
}

// InteractionObserver 接收账本变更通知，用于指标统计。
type InteractionObserver interface {
	InteractionRecorded(module permission.Module, action, outcome string)
	ViewRecorded(module permission.Module, counted bool)
}

// InteractionResult 是一次互动写入后的内容计数与当前用户状态。
type InteractionResult struct {
	Action       string              `json:"action"`
	Stats        db.ContentStats     `json:"stats"`
	Interactions db.InteractionState `json:"interactions"`
}

// InteractionService 是互动账本：保证每个 (用户, 内容, 动作) 至多一条记录，
// 并以字段级原子自增/自减维护 contents 上的冗余计数。
type InteractionService struct {
	db       *gorm.DB
	observer InteractionObserver
}

// NewInteractionService creates an InteractionService.
func NewInteractionService(gdb *gorm.DB) *InteractionService {
	return &InteractionService{db: gdb}
}

// WithObserver 设置指标观察者。
func (s *InteractionService) WithObserver(observer InteractionObserver) *InteractionService {
	s.observer = observer
	return s
}

// ValidateAction 校验互动类型是否可在该板块上切换。
func ValidateAction(module permission.Module, action string) error {
	switch action {
	case db.ActionLike, db.ActionBookmark, db.ActionShare:
		return nil
	case db.ActionHelpful:
		if helpfulModules[module] {
			return nil
		}
		return invalidField("action", "helpful is only available for wiki guides")
	default:
		return invalidField("action", "must be one of like, bookmark, share, helpful")
	}
}

// Toggle 切换互动：不存在则新增并 +1，存在则删除并 -1（不低于 0）。
func (s *InteractionService) Toggle(ctx context.Context, module permission.Module, userID, contentID, action string) (*InteractionResult, error) {
	if userID == "" {
		return nil, ErrAuthenticationRequired
	}
	if err := ValidateAction(module, action); err != nil {
		return nil, err
	}

	var (
		result *InteractionResult
		err    error
	)
	for attempt := 0; attempt < maxToggleAttempts; attempt++ {
		result, err = s.mutate(ctx, module, userID, contentID, action, nil)
		if !errors.Is(err, errToggleRace) {
			break
		}
	}
	if errors.Is(err, errToggleRace) {
		return nil, ErrTransientStorage
	}
	if err != nil {
		return nil, wrapStorageError(err)
	}
	s.notify(module, action, result.Action)
	return result, nil
}

// Set 把互动设置为指定状态，可安全重试：状态已满足时返回 unchanged，计数不变。
func (s *InteractionService) Set(ctx context.Context, module permission.Module, userID, contentID, action string, active bool) (*InteractionResult, error) {
	if userID == "" {
		return nil, ErrAuthenticationRequired
	}
	if err := ValidateAction(module, action); err != nil {
		return nil, err
	}

	result, err := s.mutate(ctx, module, userID, contentID, action, &active)
	if err != nil {
		return nil, wrapStorageError(err)
	}
	s.notify(module, action, result.Action)
	return result, nil
}

// mutate 在一个事务内完成记录写入与计数更新。want 为 nil 时切换。
// 记录的存在性由唯一索引（插入冲突）和条件删除（影响行数）判定，不做先读后写。
func (s *InteractionService) mutate(ctx context.Context, module permission.Module, userID, contentID, action string, want *bool) (*InteractionResult, error) {
	column := counterColumns[action]
	result := &InteractionResult{Action: OutcomeUnchanged}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureContent(tx, module, contentID); err != nil {
			return err
		}

		if want == nil || *want {
			record := db.Interaction{UserID: userID, ContentID: contentID, Action: action, ContentType: module}
			inserted := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "content_id"}, {Name: "action"}},
				DoNothing: true,
			}).Create(&record)
			if inserted.Error != nil {
				return inserted.Error
			}
			if inserted.RowsAffected == 1 {
				if err := adjustCounter(tx, contentID, column, 1); err != nil {
					return err
				}
				result.Action = OutcomeAdded
			}
		}

		if result.Action == OutcomeUnchanged && (want == nil || !*want) {
			removed := tx.Where("user_id = ? AND content_id = ? AND action = ?", userID, contentID, action).
				Delete(&db.Interaction{})
			if removed.Error != nil {
				return removed.Error
			}
			switch {
			case removed.RowsAffected == 1:
				if err := adjustCounter(tx, contentID, column, -1); err != nil {
					return err
				}
				result.Action = OutcomeRemoved
			case want == nil:
				return errToggleRace
			}
		}

		stats, err := loadStats(tx, contentID)
		if err != nil {
			return err
		}
		state, err := loadState(tx, userID, contentID)
		if err != nil {
			return err
		}
		result.Stats = stats
		result.Interactions = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordView 记录浏览。登录用户仅首次浏览计数；匿名浏览每次计数。
func (s *InteractionService) RecordView(ctx context.Context, module permission.Module, userID, contentID string) error {
	column := counterColumns[db.ActionView]

	if userID == "" {
		res := s.db.WithContext(ctx).
			Model(&db.ContentItem{}).
			Where("id = ? AND module = ? AND is_deleted = ?", contentID, module, false).
			UpdateColumn(column, gorm.Expr(column+" + 1"))
		if res.Error != nil {
			return wrapStorageError(res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		s.notifyView(module, true)
		return nil
	}

	counted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureContent(tx, module, contentID); err != nil {
			return err
		}

		marker := db.Interaction{UserID: userID, ContentID: contentID, Action: db.ActionView, ContentType: module}
		inserted := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "content_id"}, {Name: "action"}},
			DoNothing: true,
		}).Create(&marker)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			return nil
		}

		counted = true
		return adjustCounter(tx, contentID, column, 1)
	})
	if err != nil {
		return wrapStorageError(err)
	}
	s.notifyView(module, counted)
	return nil
}

// State 返回用户对内容的互动状态；userID 为空时全部为 false。
func (s *InteractionService) State(ctx context.Context, userID, contentID string) (db.InteractionState, error) {
	if userID == "" {
		return db.InteractionState{}, nil
	}

	tx := s.db.WithContext(ctx)
	var count int64
	if err := tx.Model(&db.ContentItem{}).
		Where("id = ? AND is_deleted = ?", contentID, false).
		Count(&count).Error; err != nil {
		return db.InteractionState{}, wrapStorageError(err)
	}
	if count == 0 {
		return db.InteractionState{}, ErrNotFound
	}

	state, err := loadState(tx, userID, contentID)
	if err != nil {
		return db.InteractionState{}, wrapStorageError(err)
	}
	return state, nil
}

// StateMap 批量返回用户对多条内容的互动状态，用于列表渲染。
func (s *InteractionService) StateMap(ctx context.Context, userID string, contentIDs []string) (map[string]db.InteractionState, error) {
	result := make(map[string]db.InteractionState, len(contentIDs))
	if userID == "" || len(contentIDs) == 0 {
		return result, nil
	}

	var records []db.Interaction
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND content_id IN ? AND action <> ?", userID, contentIDs, db.ActionView).
		Find(&records).Error; err != nil {
		return nil, wrapStorageError(err)
	}

	for _, record := range records {
		state := result[record.ContentID]
		applyAction(&state, record.Action)
		result[record.ContentID] = state
	}
	return result, nil
}

func (s *InteractionService) notify(module permission.Module, action, outcome string) {
	if s.observer != nil {
		s.observer.InteractionRecorded(module, action, outcome)
	}
}

func (s *InteractionService) notifyView(module permission.Module, counted bool) {
	if s.observer != nil {
		s.observer.ViewRecorded(module, counted)
	}
}

func ensureContent(tx *gorm.DB, module permission.Module, contentID string) error {
	var count int64
	if err := tx.Model(&db.ContentItem{}).
		Where("id = ? AND module = ? AND is_deleted = ?", contentID, module, false).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// adjustCounter 对单个计数列做原子增减，自减时下限为 0。
func adjustCounter(tx *gorm.DB, contentID, column string, delta int) error {
	expr := gorm.Expr(column + " + 1")
	if delta < 0 {
		expr = gorm.Expr("CASE WHEN " + column + " > 0 THEN " + column + " - 1 ELSE 0 END")
	}

	res := tx.Model(&db.ContentItem{}).
		Where("id = ? AND is_deleted = ?", contentID, false).
		UpdateColumn(column, expr)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func loadStats(tx *gorm.DB, contentID string) (db.ContentStats, error) {
	var item db.ContentItem
	if err := tx.Select("id", "stats_views_count", "stats_likes_count", "stats_bookmarks_count", "stats_shares_count", "stats_helpfuls_count").
		First(&item, "id = ?", contentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.ContentStats{}, ErrNotFound
		}
		return db.ContentStats{}, err
	}
	return item.Stats, nil
}

func loadState(tx *gorm.DB, userID, contentID string) (db.InteractionState, error) {
	var actions []string
	if err := tx.Model(&db.Interaction{}).
		Where("user_id = ? AND content_id = ? AND action <> ?", userID, contentID, db.ActionView).
		Pluck("action", &actions).Error; err != nil {
		return db.InteractionState{}, err
	}

	var state db.InteractionState
	for _, action := range actions {
		applyAction(&state, action)
	}
	return state, nil
}

func applyAction(state *db.InteractionState, action string) {
	switch action {
	case db.ActionLike:
		state.IsLiked = true
	case db.ActionBookmark:
		state.IsBookmarked = true
	case db.ActionShare:
		state.IsShared = true
	case db.ActionHelpful:
		state.IsHelpful = true
	}
}
