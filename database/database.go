package database

import (
	"context"
	"fmt"
	"time"

	"klassenbuch_go/config"
	"klassenbuch_go/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB
var RedisClient *redis.Client

// Connect initializes the database and Redis connections. A database failure
// is returned so the caller can decide whether to continue without it.
func Connect() error {
	if err := connectDatabase(); err != nil {
		return err
	}
	ConnectRedis()
	return nil
}

func connectDatabase() error {
	dsn := config.AppConfig.GetDSN()

	var gormLogger logger.Interface
	if config.AppConfig.IsDevelopment() {
		gormLogger = logger.Default.LogMode(logger.Info)
	} else {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	// Retry logic for transient network issues
	var (
		db      *gorm.DB
		lastErr error
	)
	for attempt := 1; attempt <= 8; attempt++ {
		db, lastErr = gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
		if lastErr == nil {
			break
		}
		logrus.WithField("attempt", attempt).WithError(lastErr).Warn("Database connect attempt failed")
		time.Sleep(time.Duration(attempt*attempt) * 300 * time.Millisecond)
	}
	if lastErr != nil {
		return fmt.Errorf("connect database after retries: %w", lastErr)
	}
	DB = db
	logrus.Info("Database connected successfully")

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(55 * time.Minute)

	if config.AppConfig.SkipMigrate {
		logrus.Info("Skipping auto migration")
		return nil
	}
	return AutoMigrate()
}

// AutoMigrate performs automatic database migration
func AutoMigrate() error {
	err := DB.AutoMigrate(
		&models.ClassRow{},
		&models.StudentRow{},
		&models.LessonRow{},
		&models.AbsenceRow{},
		&models.LatenessRow{},
		&models.ExcuseEditRow{},
		&models.CourseRow{},
		&models.EnrollmentRow{},
		&models.CourseAttendanceRow{},
		&models.ReportArchive{},
	)
	if err != nil {
		return fmt.Errorf("auto migration: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}

// ConnectRedis initializes the Redis connection. It is usable without a database.
func ConnectRedis() {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.AppConfig.RedisHost, config.AppConfig.RedisPort),
		Password: config.AppConfig.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		logrus.WithError(err).Warn("Redis connection failed, continuing without Redis (in-process realtime and direct notifications)")
		RedisClient = nil
		return
	}
	logrus.Info("Redis connected successfully")
}

// GetRedisClient returns the Redis client instance
func GetRedisClient() *redis.Client {
	return RedisClient
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() {
	if DB == nil {
		return
	}
	sqlDB, err := DB.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting database instance")
		return
	}
	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
		return
	}
	logrus.Info("Database connection closed")
}
