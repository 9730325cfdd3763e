package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pal-backend/internal/config"
	"pal-backend/internal/logger"
	"pal-backend/internal/logincode"
	"pal-backend/internal/models"
)

var DB *gorm.DB

// Init connects to Postgres, runs migrations and stores the handle in DB.
func Init(cfg *config.Config) error {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return err
	}

	DB = db
	logger.L().Info("database connected, migrations applied")
	return nil
}

// Migrate auto-migrates every model and backfills columns added after rows
// already existed.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := backfillLoginCodes(db); err != nil {
		return err
	}
	return nil
}

// Technicians created before login codes existed have an empty code; give
// each one a fresh unique code so they can sign in.
func backfillLoginCodes(db *gorm.DB) error {
	var techs []models.Technician
	if err := db.Where("login_code IS NULL OR login_code = ''").Find(&techs).Error; err != nil {
		return fmt.Errorf("find technicians without login code: %w", err)
	}
	if len(techs) == 0 {
		return nil
	}

	logger.L().Info("backfilling technician login codes", zap.Int("count", len(techs)))
	for _, t := range techs {
		code, err := UniqueLoginCode(db)
		if err != nil {
			return err
		}
		if err := db.Model(&models.Technician{}).Where("id = ?", t.ID).Update("login_code", code).Error; err != nil {
			return fmt.Errorf("set login code for technician %d: %w", t.ID, err)
		}
	}
	return nil
}

// UniqueLoginCode draws codes until one is unused.
func UniqueLoginCode(db *gorm.DB) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code, err := logincode.Generate()
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Model(&models.Technician{}).Where("login_code = ?", code).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check login code: %w", err)
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not find a free login code")
}
