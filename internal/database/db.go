package database

import (
	"time"

	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the Postgres connection pool and verifies it with a ping.
func Connect(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	logger.Log.Info("Database connected successfully")
	return db, nil
}

// Migrate creates or updates the users, mlmodels and predictions tables.
func Migrate(db *gorm.DB) error {
	start := time.Now()
	if err := db.AutoMigrate(&models.User{}, &models.MLModel{}, &models.Prediction{}); err != nil {
		return err
	}

	logger.Log.Info("Database migration completed",
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
