package database

import (
	"database/sql"
	"fmt"
	"time"

	"economy_index/internal/config"
	"economy_index/internal/models"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/godror/godror"
	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// driverNames database/sql 驱动名
var driverNames = map[string]string{
	"oracle":   "godror",
	"postgres": "pgx",
	"mysql":    "mysql",
	"sqlite":   "sqlite",
}

// OpenPool 打开目标库连接池，调用方负责 Close
func OpenPool(cfg *config.DatabaseConfig) (*sql.DB, error) {
	driver, ok := driverNames[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Type)
	}

	db, err := sql.Open(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// oracle 的会话池由 godror 按 poolMinSessions/poolMaxSessions 管理
	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return db, nil
}

// OpenHistory 打开任务记录库并迁移 job_runs 表
func OpenHistory(cfg *config.HistoryConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	dsn := cfg.GetDSN()

	switch cfg.Type {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Type)
	}
	return openHistory(dialector, cfg)
}

// openHistory 打开连接、设置连接池并迁移；失败时释放已建立的连接池
func openHistory(dialector gorm.Dialector, cfg *config.HistoryConfig) (*gorm.DB, error) {
	// 配置 GORM，连接测试在下面单独做
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
		DisableAutomaticPing: true,
	}
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		_ = CloseHistory(db)
		return nil, err
	}
	// 获取底层数据库连接
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接失败: %w", err)
	}
	// 设置连接池
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	// 测试连接
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	if err := db.AutoMigrate(&models.JobRun{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	return db, nil
}

// CloseHistory 关闭任务记录库连接
func CloseHistory(db *gorm.DB) error {
	if db != nil && db.Config != nil && db.ConnPool != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
