package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

// sqlitePragmas 让写事务立即加锁并在锁冲突时等待，而不是直接返回 SQLITE_BUSY。
const sqlitePragmas = "_busy_timeout=5000&_txlock=immediate&_foreign_keys=1"

// Init 初始化数据库连接并执行自动迁移。
// databasePath 为空时将回退到默认值 monsterhub.db。
func Init(databasePath string) error {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		path = "monsterhub.db"
	}

	if err := ensureParentDir(path); err != nil {
		return err
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn = "file:" + dsn + "?" + sqlitePragmas
	}

	gdb, err := Open(dsn, logger.Warn)
	if err != nil {
		return err
	}
	DB = gdb
	return nil
}

// Open 打开 sqlite 数据库并迁移全部模型，测试中也通过它建库。
func Open(dsn string, level logger.LogLevel) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Migrate 自动迁移模式，为核心模型创建表
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&User{},
		&Tag{},
		&ContentItem{},
		&Interaction{},
	)
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
