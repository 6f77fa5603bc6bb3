package db

import (
	"time"

	"github.com/monsterhub/internal/permission"
)

// 内容状态
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// ContentAuthor 是冗余保存在内容上的作者快照。
type ContentAuthor struct {
	ID     string `gorm:"size:64;index" json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ContentStats 是由互动账本维护的冗余计数，客户端不能直接写入。
type ContentStats struct {
	ViewsCount     int64 `gorm:"not null;default:0" json:"viewsCount"`
	LikesCount     int64 `gorm:"not null;default:0" json:"likesCount"`
	BookmarksCount int64 `gorm:"not null;default:0" json:"bookmarksCount"`
	SharesCount    int64 `gorm:"not null;default:0" json:"sharesCount"`
	HelpfulsCount  int64 `gorm:"not null;default:0" json:"helpfulsCount"`
}

// InteractionState 表示当前用户对某条内容的互动状态，不落库。
type InteractionState struct {
	IsLiked      bool `json:"isLiked"`
	IsBookmarked bool `json:"isBookmarked"`
	IsShared     bool `json:"isShared"`
	IsHelpful    bool `json:"isHelpful"`
}

// ContentItem 是论坛帖、博客文章、Wiki 攻略与图鉴怪物共用的内容模型。
// Slug 在同一板块的未删除内容中唯一；IsDeleted 与 Status 相互独立：
// 对外可见 = !IsDeleted && Status == published，特权用户可见 = !IsDeleted。
type ContentItem struct {
	ID              string            `gorm:"primaryKey;size:36" json:"id"`
	Module          permission.Module `gorm:"size:16;not null;index;uniqueIndex:idx_contents_module_slug,where:is_deleted = 0" json:"module"`
	Slug            string            `gorm:"size:200;not null;uniqueIndex:idx_contents_module_slug,where:is_deleted = 0" json:"slug"`
	Title           string            `gorm:"not null" json:"title"`
	Body            string            `gorm:"type:text" json:"body"`
	Excerpt         string            `json:"excerpt"`
	MetaDescription string            `json:"metaDescription"`
	Category        string            `gorm:"size:64;index" json:"category"`
	CoverURL        string            `json:"coverUrl,omitempty"`
	Attributes      Attributes        `json:"attributes,omitempty"`
	Tags            []Tag             `gorm:"many2many:content_tags;" json:"-"`
	Author          ContentAuthor     `gorm:"embedded;embeddedPrefix:author_" json:"author"`
	Status          string            `gorm:"size:16;not null;default:published;index" json:"status"`
	Stats           ContentStats      `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
	EditedBy        string            `gorm:"size:64" json:"editedBy,omitempty"`
	IsDeleted       bool              `gorm:"not null;default:false;index" json:"isDeleted"`
	DeletedAt       *time.Time        `json:"-"`
	DeletedBy       string            `gorm:"size:64" json:"-"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`

	TagNames     []string          `gorm:"-" json:"tags"`
	Interactions *InteractionState `gorm:"-" json:"interactions,omitempty"`
}

// TableName 指定自定义表名。
func (ContentItem) TableName() string {
	return "contents"
}

// OwnerID 返回作者 ID，供权限判断使用。
func (c *ContentItem) OwnerID() string {
	return c.Author.ID
}

// PopulateDerivedFields 根据关联数据填充派生字段。
func (c *ContentItem) PopulateDerivedFields() {
	names := make([]string, 0, len(c.Tags))
	for _, tag := range c.Tags {
		names = append(names, tag.Name)
	}
	c.TagNames = names
}
