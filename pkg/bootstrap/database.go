package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"paystream/internal/config"
	"paystream/internal/logger"
)

type StoreConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewStoreConnector(cfg *config.Config, log logger.Logger) *StoreConnector {
	return &StoreConnector{
		Config: cfg,
		Logger: log,
	}
}

func (sc *StoreConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := sc.Config.Database.Postgres

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pg.User,
		pg.Password,
		pg.Host,
		pg.Port,
		pg.DBName,
		pg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if sc.Config.Database.RunMigrations {
		if err := sc.runMigrations(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	sc.Logger.Info("PostgreSQL connected successfully")
	return db, nil
}

func (sc *StoreConnector) runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+sc.Config.Database.MigrationsDir,
		sc.Config.Database.Postgres.DBName,
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	sc.Logger.Info("Database migrations applied")
	return nil
}

func (sc *StoreConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	rs := sc.Config.Broker.RedisStream

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", rs.Host, rs.Port),
		Password: rs.Password,
		DB:       rs.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	sc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

func (sc *StoreConnector) InitObjectStore(ctx context.Context) (*minio.Client, error) {
	store := sc.Config.ObjectStore

	client, err := minio.New(store.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(store.AccessKey, store.SecretKey, ""),
		Secure: store.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, store.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, store.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", store.Bucket, err)
		}
		sc.Logger.Infow("Object store bucket created",
			"bucket", store.Bucket,
		)
	}

	sc.Logger.Info("Object store connected successfully")
	return client, nil
}

func (sc *StoreConnector) ShutdownStores(postgres *sql.DB, redis *redis.Client) []error {
	var errs []error

	if postgres != nil {
		if err := postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if redis != nil {
		if err := redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	return errs
}
