package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yoockh/yoobatch/internal/models"
	"github.com/yoockh/yoobatch/internal/utils"
)

// NewPostgres opens the conversation log database and migrates its table.
func NewPostgres(uri string, log *logrus.Logger) (*gorm.DB, error) {
	const op = "config.NewPostgres"

	db, err := gorm.Open(postgres.Open(uri), &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to open postgres", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get sql handle", err)
	}

	// Connection Pooling settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.AutoMigrate(&models.ConversationLog{}); err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to migrate conversation_logs", err)
	}
	return db, nil
}
