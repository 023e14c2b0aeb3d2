package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aman-churiwal/velero-api/internal/models"
)

// Postgres holds the request log database. It is only opened when
// DATABASE_URL is set.
type Postgres struct {
	DB *gorm.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(err, "error opening request log database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// Writes come from one batching worker; reads from the analytics endpoint.
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Postgres{DB: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(sqlDB.PingContext(ctx), "request log database unreachable")
}

// AutoMigrate creates or updates the request_logs table.
func (p *Postgres) AutoMigrate() error {
	return errors.Wrap(p.DB.AutoMigrate(&models.RequestLog{}), "error migrating request logs")
}

func (p *Postgres) Close() error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return sqlDB.Close()
}
