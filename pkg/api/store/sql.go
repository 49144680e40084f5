package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apievaluator/resultsapi/pkg/config"
	"github.com/apievaluator/resultsapi/pkg/testresult"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Compile-time interface check.
var _ Store = (*sqlStore)(nil)

// sqlStore keeps test results in a relational table through gorm.
type sqlStore struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig

	mu sync.RWMutex
	db *gorm.DB
}

func newSQLStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) *sqlStore {
	return &sqlStore{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *sqlStore) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case config.DriverPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	// SQLite allows a single writer, and every connection to :memory: is a
	// separate database.
	if s.cfg.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()

		return fmt.Errorf("pinging database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&resultRecord{}); err != nil {
		_ = sqlDB.Close()

		return fmt.Errorf("running migrations: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *sqlStore) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	s.db = nil

	return sqlDB.Close()
}

func (s *sqlStore) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotConnected
	}

	return s.db.WithContext(ctx), nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.PingContext(ctx)
}

func (s *sqlStore) CreateTestResult(
	ctx context.Context, r *testresult.TestResult,
) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	rec, err := newResultRecord(r)
	if err != nil {
		return fmt.Errorf("creating test result: %w", err)
	}

	rec.ID = uuid.NewString()

	if err := db.Create(rec).Error; err != nil {
		return fmt.Errorf("creating test result: %w", err)
	}

	r.ID = rec.ID
	r.CreatedAt = rec.CreatedAt.UTC()
	r.UpdatedAt = rec.UpdatedAt.UTC()

	return nil
}

func (s *sqlStore) GetTestResult(
	ctx context.Context, id string,
) (*testresult.TestResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("getting test result %q: %w", id, ErrInvalidID)
	}

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rec resultRecord
	if err := db.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("getting test result %q: %w", id, ErrNotFound)
		}

		return nil, fmt.Errorf("getting test result %q: %w", id, err)
	}

	result, err := rec.toTestResult()
	if err != nil {
		return nil, fmt.Errorf("getting test result %q: %w", id, err)
	}

	return &result, nil
}

func (s *sqlStore) ListTestResults(
	ctx context.Context, filter Filter, page Page,
) ([]testresult.TestResult, int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := db.Model(&resultRecord{}).
		Scopes(filter.sqlScope).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting test results: %w", err)
	}

	var records []resultRecord
	if err := db.Scopes(filter.sqlScope).
		Order("timestamp DESC").
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("listing test results: %w", err)
	}

	results := make([]testresult.TestResult, 0, len(records))
	for i := range records {
		r, err := records[i].toTestResult()
		if err != nil {
			return nil, 0, fmt.Errorf("converting test result %s: %w",
				records[i].ID, err)
		}

		results = append(results, r)
	}

	return results, total, nil
}

func (s *sqlStore) DeleteTestResult(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("deleting test result %q: %w", id, ErrInvalidID)
	}

	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	result := db.Where("id = ?", id).Delete(&resultRecord{})
	if result.Error != nil {
		return fmt.Errorf("deleting test result %q: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting test result %q: %w", id, ErrNotFound)
	}

	return nil
}

func (s *sqlStore) DeleteTestResults(
	ctx context.Context, filter Filter,
) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Session(&gorm.Session{AllowGlobalUpdate: true}).
		Scopes(filter.sqlScope).
		Delete(&resultRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting test results: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).
			Info("Deleted test results")
	}

	return result.RowsAffected, nil
}

// successClause matches 2xx status codes.
const successClause = "status >= 200 AND status < 300"

func (s *sqlStore) Stats(ctx context.Context, filter Filter) (*Stats, error) {
	if _, err := s.conn(ctx); err != nil {
		return nil, err
	}

	var stats Stats

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		db, err := s.conn(gctx)
		if err != nil {
			return err
		}

		if err := db.Model(&resultRecord{}).
			Scopes(filter.sqlScope).
			Count(&stats.Total).Error; err != nil {
			return fmt.Errorf("counting test results: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		db, err := s.conn(gctx)
		if err != nil {
			return err
		}

		if err := db.Model(&resultRecord{}).
			Scopes(filter.sqlScope).
			Where(successClause).
			Count(&stats.Successful).Error; err != nil {
			return fmt.Errorf("counting successful test results: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		db, err := s.conn(gctx)
		if err != nil {
			return err
		}

		if err := db.Model(&resultRecord{}).
			Scopes(filter.sqlScope).
			Select("endpoint_method AS method, COUNT(*) AS count, " +
				"SUM(CASE WHEN " + successClause + " THEN 1 ELSE 0 END) AS successful").
			Group("endpoint_method").
			Order("COUNT(*) DESC").
			Order("endpoint_method ASC").
			Scan(&stats.ByMethod).Error; err != nil {
			return fmt.Errorf("aggregating by method: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		db, err := s.conn(gctx)
		if err != nil {
			return err
		}

		if err := db.Model(&resultRecord{}).
			Scopes(filter.sqlScope).
			Select("endpoint_path AS path, COUNT(*) AS count, " +
				"CAST(AVG(status) AS FLOAT) AS avg_status").
			Group("endpoint_path").
			Order("COUNT(*) DESC").
			Order("endpoint_path ASC").
			Limit(topPathsLimit).
			Scan(&stats.TopPaths).Error; err != nil {
			return fmt.Errorf("aggregating by path: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.finalize()

	return &stats, nil
}
