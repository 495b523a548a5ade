package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 初始化数据库连接
// dsn: 数据库连接字符串
// models: 需要自动建表/迁移的结构体指针
func InitDB(dsn string, models ...interface{}) *gorm.DB {
	// 开发阶段打印 SQL，方便排查 upsert 行为
	dbLogger := logger.Default.LogMode(logger.Info)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层 SQL DB 失败: %v", err)
	}

	// 连接池参数：单次同步调用生命周期短，空闲连接保守一些
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("数据库连接成功")

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			log.Fatalf("自动建表出错: %v", err)
		}
	}

	return db
}

// MigrateRecordTables 为目录中每个落库表建表并创建唯一索引
// 各实体表结构相同但表名不同，唯一索引名必须随表名区分，
// 否则多表共用 gorm 标签里的索引名会冲突
func MigrateRecordTables(db *gorm.DB, prototype interface{}, tables []string) error {
	for _, tbl := range tables {
		if tbl == "" {
			continue
		}
		if err := db.Table(tbl).AutoMigrate(prototype); err != nil {
			return fmt.Errorf("迁移表 %s 失败: %w", tbl, err)
		}
		idx := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS uidx_%s_conn_external ON %s (connection_id, external_id)",
			tbl, tbl,
		)
		if err := db.Exec(idx).Error; err != nil {
			return fmt.Errorf("创建唯一索引 %s 失败: %w", tbl, err)
		}
	}
	return nil
}
