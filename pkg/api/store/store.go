package store

import (
	"context"
	"errors"

	"github.com/apievaluator/resultsapi/pkg/config"
	"github.com/apievaluator/resultsapi/pkg/testresult"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when no test result has the requested id.
	ErrNotFound = errors.New("test result not found")

	// ErrInvalidID is returned when an id is not in the backend's format.
	ErrInvalidID = errors.New("invalid test result id")

	// ErrNotConnected is returned by operations on a store that has not
	// been started successfully.
	ErrNotConnected = errors.New("database not connected")
)

// Store provides persistence for test results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error
	Ping(ctx context.Context) error

	// CreateTestResult inserts r and fills in its id and bookkeeping
	// timestamps.
	CreateTestResult(ctx context.Context, r *testresult.TestResult) error
	GetTestResult(ctx context.Context, id string) (*testresult.TestResult, error)
	// ListTestResults returns one page of matching results, newest first,
	// and the total number of matching results.
	ListTestResults(
		ctx context.Context, filter Filter, page Page,
	) ([]testresult.TestResult, int64, error)
	DeleteTestResult(ctx context.Context, id string) error
	DeleteTestResults(ctx context.Context, filter Filter) (int64, error)

	Stats(ctx context.Context, filter Filter) (*Stats, error)
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	if cfg.Driver == config.DriverMongoDB {
		return newMongoStore(log, cfg)
	}

	return newSQLStore(log, cfg)
}
