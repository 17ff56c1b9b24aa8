package storage

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dmsync/internal/config"
	"dmsync/internal/models"
)

// InitDB opens the database described by cfg. Only "postgres" is backed by GORM;
// the "memory" type is handled by NewRepositories without a connection.
func InitDB(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(postgresDSN(cfg))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	// GORM 使用自己的 logger
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogLevel(logLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func postgresDSN(cfg config.DatabaseConfig) string {
	var dsnParts []string
	dsnParts = append(dsnParts, fmt.Sprintf("host=%s", cfg.Host))
	dsnParts = append(dsnParts, fmt.Sprintf("port=%d", cfg.Port))
	dsnParts = append(dsnParts, fmt.Sprintf("user=%s", cfg.User))
	dsnParts = append(dsnParts, fmt.Sprintf("dbname=%s", cfg.DBName))
	if cfg.Password != "" {
		dsnParts = append(dsnParts, fmt.Sprintf("password=%s", cfg.Password))
	}
	dsnParts = append(dsnParts, fmt.Sprintf("sslmode=%s", cfg.SSLMode))
	return strings.Join(dsnParts, " ")
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.Info
	case "warn", "warning", "info":
		return logger.Warn
	default:
		return logger.Error
	}
}

// AutoMigrateTables runs GORM's auto-migration for the message and profile tables.
func AutoMigrateTables(db *gorm.DB) error {
	slog.Info("开始数据库表结构迁移...")
	if err := db.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	slog.Info("数据库迁移完成。")
	return nil
}

// Repositories bundles the repositories the servers need.
type Repositories struct {
	Messages MessageRepository
	Users    UserRepository
}

// NewRepositories builds GORM repositories when db is non-nil and in-memory ones otherwise.
func NewRepositories(db *gorm.DB) Repositories {
	if db == nil {
		return Repositories{
			Messages: NewMemoryMessageRepository(),
			Users:    NewMemoryUserRepository(),
		}
	}
	return Repositories{
		Messages: NewGormMessageRepository(db),
		Users:    NewGormUserRepository(db),
	}
}
