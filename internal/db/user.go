package db

import (
	"time"

	"github.com/monsterhub/internal/permission"
)

// User 定义了用户模型。OAuth 用户以 Provider + ProviderUserID 唯一确定，
// 本地超级管理员使用 Username + Password 登录。
type User struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	Provider       string          `gorm:"size:32;uniqueIndex:idx_user_provider" json:"provider"`
	ProviderUserID string          `gorm:"size:128;uniqueIndex:idx_user_provider" json:"-"`
	Username       string          `gorm:"size:64;unique;not null" json:"username"`
	DisplayName    string          `json:"displayName"`
	AvatarURL      string          `json:"avatar"`
	Password       string          `json:"-"`
	Role           permission.Role `gorm:"size:16;not null;default:member" json:"role"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Principal 返回该用户对应的请求主体。
func (u *User) Principal() *permission.Principal {
	return &permission.Principal{ID: u.ID, Role: u.Role}
}

// Name 返回用于展示的名称。
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
