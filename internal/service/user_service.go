package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/monsterhub/internal/db"
	"github.com/monsterhub/internal/permission"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const localProvider = "local"

// UserService wraps user related database operations.
type UserService struct {
	db *gorm.DB
}

// OAuthProfile 是从 OAuth 提供方拿到的用户资料。
type OAuthProfile struct {
	Provider    string
	ExternalID  string
	Username    string
	DisplayName string
	AvatarURL   string
}

// NewUserService creates a UserService instance.
func NewUserService(gdb *gorm.DB) *UserService {
	return &UserService{db: gdb}
}

// Get fetches a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*db.User, error) {
	var user db.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, wrapStorageError(err)
	}
	return &user, nil
}

// UpsertOAuthUser 按 provider + 外部 ID 查找用户，不存在则以 member 角色创建；
// 已存在时只刷新展示资料，角色保持不变。
func (s *UserService) UpsertOAuthUser(ctx context.Context, profile OAuthProfile) (*db.User, error) {
	provider := strings.TrimSpace(profile.Provider)
	externalID := strings.TrimSpace(profile.ExternalID)
	if provider == "" || externalID == "" {
		return nil, invalidField("profile", "provider and external id are required")
	}

	var user db.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("provider = ? AND provider_user_id = ?", provider, externalID).First(&user).Error
		if err == nil {
			updates := map[string]interface{}{
				"display_name": strings.TrimSpace(profile.DisplayName),
				"avatar_url":   strings.TrimSpace(profile.AvatarURL),
			}
			if err := tx.Model(&user).Updates(updates).Error; err != nil {
				return err
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		username, err := s.availableUsername(tx, profile.Username, provider, externalID)
		if err != nil {
			return err
		}
		user = db.User{
			ID:             uuid.NewString(),
			Provider:       provider,
			ProviderUserID: externalID,
			Username:       username,
			DisplayName:    strings.TrimSpace(profile.DisplayName),
			AvatarURL:      strings.TrimSpace(profile.AvatarURL),
			Role:           permission.RoleMember,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}
	return &user, nil
}

// SetRole 修改用户角色。
func (s *UserService) SetRole(ctx context.Context, id string, role permission.Role) (*db.User, error) {
	if _, ok := permission.ParseRole(string(role)); !ok {
		return nil, invalidField("role", "unknown role")
	}

	res := s.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return nil, wrapStorageError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	return s.Get(ctx, id)
}

// SetRoleByUsername 供命令行使用。
func (s *UserService) SetRoleByUsername(ctx context.Context, username string, role permission.Role) (*db.User, error) {
	var user db.User
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, wrapStorageError(err)
	}
	return s.SetRole(ctx, user.ID, role)
}

// EnsureSuperRoot 存在性检查：若提供的用户名与密码均非空且不存在对应账号，
// 则创建一个 bcrypt 哈希的本地管理员。
func (s *UserService) EnsureSuperRoot(ctx context.Context, username, password string) error {
	trimmedUser := strings.TrimSpace(username)
	trimmedPassword := strings.TrimSpace(password)
	if trimmedUser == "" || trimmedPassword == "" {
		return nil
	}

	var existing db.User
	err := s.db.WithContext(ctx).Where("username = ?", trimmedUser).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStorageError(err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(trimmedPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Create(&db.User{
		ID:             uuid.NewString(),
		Provider:       localProvider,
		ProviderUserID: trimmedUser,
		Username:       trimmedUser,
		DisplayName:    trimmedUser,
		Password:       string(hashed),
		Role:           permission.RoleAdmin,
	}).Error
}

// Authenticate 校验本地账号密码。
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*db.User, error) {
	var user db.User
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND username = ?", localProvider, strings.TrimSpace(username)).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, wrapStorageError(err)
	}

	if user.Password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (s *UserService) availableUsername(tx *gorm.DB, preferred, provider, externalID string) (string, error) {
	base := strings.TrimSpace(preferred)
	if base == "" {
		base = fmt.Sprintf("%s-%s", provider, externalID)
	}

	candidate := base
	for n := 1; n <= 50; n++ {
		var count int64
		if err := tx.Model(&db.User{}).Where("username = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, n)
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8]), nil
}
