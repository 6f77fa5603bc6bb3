package db

import "time"

// Tag 定义了标签模型，四个板块共用同一张标签表。
type Tag struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	Name      string        `gorm:"size:64;unique;not null" json:"name"`
	Contents  []ContentItem `gorm:"many2many:content_tags;" json:"-"`
	CreatedAt time.Time     `json:"-"`
}
