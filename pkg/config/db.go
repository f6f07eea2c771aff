package config

import (
	"context"
	"fmt"
	"time"

	"mobile-chat/backend/pkg/logger"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	dbConnectAttempts = 5
	dbRetryDelay      = 2 * time.Second
)

// DSN builds the PostgreSQL connection string for the roster database
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
		int(c.Database.Timeout.Seconds()),
	)
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch logger.LogLevel(level) {
	case logger.LevelDebug:
		return gormlogger.Info
	case logger.LevelWarn:
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

// NewDB opens and pings the roster database, retrying until the attempts
// run out or ctx is done.
func NewDB(ctx context.Context, cfg *Config, log *logger.Logger) (*gorm.DB, error) {
	if log == nil {
		log = logger.GetGlobal()
	}
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel(cfg.Logging.Level)),
	}

	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; attempt <= dbConnectAttempts; attempt++ {
		db, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
		if err == nil {
			if err = ping(ctx, db, cfg.Database.Timeout); err == nil {
				break
			}
		}
		log.Warn("roster database not ready",
			"host", cfg.Database.Host,
			"attempt", attempt,
			"error", err.Error(),
		)
		if attempt == dbConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dbRetryDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to roster database after %d attempts: %w", dbConnectAttempts, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	maxConns := cfg.Database.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return db, nil
}

func ping(ctx context.Context, db *gorm.DB, timeout time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return sqlDB.PingContext(ctx)
}
