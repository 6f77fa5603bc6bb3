package service

import (
	"context"

	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"gorm.io/gorm"
)

// TagService wraps tag related operations.
type TagService struct {
	db *gorm.DB
}

// TagUsage 描述标签的使用次数
type TagUsage struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// NewTagService creates a TagService instance.
func NewTagService(gdb *gorm.DB) *TagService {
	return &TagService{db: gdb}
}

// PublishedUsage 返回板块中已发布、未删除内容的标签使用统计，按次数降序。
func (s *TagService) PublishedUsage(ctx context.Context, module permission.Module) ([]TagUsage, error) {
	var rows []TagUsage

	query := s.db.WithContext(ctx).Table("tags").
		Select("tags.id, tags.name, COUNT(DISTINCT contents.id) AS count").
		Joins("JOIN content_tags ON content_tags.tag_id = tags.id").
		Joins("JOIN contents ON contents.id = content_tags.content_item_id").
		Where("contents.module = ? AND contents.status = ? AND contents.is_deleted = ?", module, db.StatusPublished, false).
		Group("tags.id, tags.name").
		Order("count desc").
		Order("tags.name asc")

	if err := query.Scan(&rows).Error; err != nil {
		return nil, wrapStorageError(err)
	}
	if rows == nil {
		rows = []TagUsage{}
	}
	return rows, nil
}
