package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wecodesec-tools/pkg/config"
	"wecodesec-tools/pkg/db"
	"wecodesec-tools/services/aitask"
)

const mysqlTableOptions = "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"

type Service struct {
	db     *gorm.DB
	config *config.Config
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		config: p.Config,
	}
}

// Migrate creates or updates the task tables. It is idempotent.
func (s *Service) Migrate(ctx context.Context) error {
	tx := s.db.WithContext(ctx)
	if s.config.Database.Type == "mysql" {
		tx = tx.Set("gorm:table_options", mysqlTableOptions)
	}

	if err := tx.AutoMigrate(aitask.Models()...); err != nil {
		zap.L().Error("[bootstrap] failed to migrate task tables", zap.Error(err))
		return fmt.Errorf("migrate task tables: %w", err)
	}

	zap.L().Info("[bootstrap] task tables ready", zap.String("db_type", s.config.Database.Type))
	return nil
}

// EnsureDatabase creates the MySQL schema named by DATABASE.DBNAME when it is
// missing. Other dialects are left alone.
func EnsureDatabase(cfg *config.Config) error {
	if cfg.Database.Type != "mysql" {
		return nil
	}

	name := cfg.Database.DBNAME
	if name == "" || strings.ContainsAny(name, "`;") {
		return fmt.Errorf("invalid database name %q", name)
	}

	conn, err := gorm.Open(mysql.Open(db.MySQLDSN(cfg, false)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("connect to mysql server: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", name)
	if err := conn.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}

	zap.L().Info("[bootstrap] database ready", zap.String("database", name))
	return nil
}
