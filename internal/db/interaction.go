package db

import (
	"time"

	"github.com/monsterhub/internal/permission"
)

// 互动类型
const (
	ActionLike     = "like"
	ActionBookmark = "bookmark"
	ActionShare    = "share"
	ActionHelpful  = "helpful"
	ActionView     = "view"
)

// Interaction 记录用户对内容的一次有效互动。
// user_id + content_id + action 采用唯一索引，保证同一互动至多一条；
// 取消互动时物理删除，view 记录只作为"首次浏览"标记保留。
type Interaction struct {
	ID          uint              `gorm:"primaryKey"`
	UserID      string            `gorm:"size:64;not null;uniqueIndex:idx_interaction_unique"`
	ContentID   string            `gorm:"size:36;not null;uniqueIndex:idx_interaction_unique;index"`
	Action      string            `gorm:"size:16;not null;uniqueIndex:idx_interaction_unique"`
	ContentType permission.Module `gorm:"size:16;not null"`
	CreatedAt   time.Time
}

// TableName 指定自定义表名。
func (Interaction) TableName() string {
	return "interactions"
}
