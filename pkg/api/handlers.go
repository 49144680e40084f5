package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apievaluator/resultsapi/pkg/api/store"
	"github.com/apievaluator/resultsapi/pkg/testresult"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

// errorResponse is a standard error payload. Error carries the underlying
// detail and is only set in development.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError writes an error payload, attaching err's text in development.
func (s *server) writeError(
	w http.ResponseWriter, status int, message string, err error,
) {
	resp := errorResponse{Message: message}

	if err != nil && s.cfg.Server.IsDevelopment() {
		resp.Error = err.Error()
	}

	writeJSON(w, status, resp)
}

// writeStoreError maps a store error onto a response. Unexpected errors
// are logged with the operation and its identifying fields.
func (s *server) writeStoreError(
	w http.ResponseWriter,
	err error,
	op string,
	fields logrus.Fields,
	message string,
) {
	log := s.log.WithError(err).WithField("operation", op).WithFields(fields)

	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Test result not found", nil)
	case errors.Is(err, store.ErrInvalidID):
		s.writeError(w, http.StatusBadRequest, "Invalid test result id", nil)
	case errors.Is(err, store.ErrNotConnected):
		log.Warn("Database not connected")
		s.writeError(w, http.StatusInternalServerError, "Database not connected", err)
	case errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err):
		log.Warn("Database operation timed out")
		s.writeError(w, http.StatusGatewayTimeout, "Database operation timed out", err)
	default:
		log.Error("Database operation failed")
		s.writeError(w, http.StatusInternalServerError, message, err)
	}
}

// handleRouteNotFound answers unmatched routes and methods.
func (s *server) handleRouteNotFound(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, http.StatusNotFound, "Route not found", nil)
}

type healthResponse struct {
	Status    string    `json:"status"`
	DB        string    `json:"db"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth reports server liveness and store connectivity.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r)
	defer cancel()

	db := "connected"
	if err := s.store.Ping(ctx); err != nil {
		db = "disconnected"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		DB:        db,
		Timestamp: s.now().UTC(),
	})
}

// --- Test result handlers ---

type createResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// handleCreateTestResult stores a new test result.
func (s *server) handleCreateTestResult(w http.ResponseWriter, r *http.Request) {
	var sub testresult.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				"Request body too large", err)

			return
		}

		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)

		return
	}

	if err := sub.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)

		return
	}

	result := sub.Build(s.now())

	ctx, cancel := s.storeContext(r)
	defer cancel()

	if err := s.store.CreateTestResult(ctx, &result); err != nil {
		s.writeStoreError(w, err, "create", logrus.Fields{
			"endpoint": result.Endpoint.Label(),
		}, "Failed to save test result")

		return
	}

	s.log.WithField("id", result.ID).
		WithField("endpoint", result.Endpoint.Label()).
		Info("Saved test result")

	writeJSON(w, http.StatusCreated, createResponse{
		Success: true,
		ID:      result.ID,
		Message: "Test result saved successfully",
	})
}

type listResponse struct {
	Results    []testresult.TestResult `json:"results"`
	Pagination store.Pagination        `json:"pagination"`
}

// handleListTestResults returns one page of matching test results.
func (s *server) handleListTestResults(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter, err := parseFilter(query)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)

		return
	}

	page := s.parsePage(query)

	ctx, cancel := s.storeContext(r)
	defer cancel()

	results, total, err := s.store.ListTestResults(ctx, filter, page)
	if err != nil {
		s.writeStoreError(w, err, "list", filterFields(filter, page),
			"Failed to fetch test results")

		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Results:    results,
		Pagination: store.NewPagination(total, page),
	})
}

// handleGetTestResult returns a single test result.
func (s *server) handleGetTestResult(w http.ResponseWriter, r *http.Request) {
	result, ok := s.lookupTestResult(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetTestResultSummary returns the compact view of a test result.
func (s *server) handleGetTestResultSummary(w http.ResponseWriter, r *http.Request) {
	result, ok := s.lookupTestResult(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, result.Summary())
}

func (s *server) lookupTestResult(
	w http.ResponseWriter, r *http.Request,
) (*testresult.TestResult, bool) {
	id := chi.URLParam(r, "id")

	ctx, cancel := s.storeContext(r)
	defer cancel()

	result, err := s.store.GetTestResult(ctx, id)
	if err != nil {
		s.writeStoreError(w, err, "get", logrus.Fields{"id": id},
			"Failed to fetch test result")

		return nil, false
	}

	return result, true
}

// handleDeleteTestResult removes a single test result.
func (s *server) handleDeleteTestResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := s.storeContext(r)
	defer cancel()

	if err := s.store.DeleteTestResult(ctx, id); err != nil {
		s.writeStoreError(w, err, "delete", logrus.Fields{"id": id},
			"Failed to delete test result")

		return
	}

	s.log.WithField("id", id).Info("Deleted test result")

	writeJSON(w, http.StatusOK, messageResponse{
		Message: "Test result deleted successfully",
	})
}

// deleteConfirmation is the value the confirm parameter must carry for a
// bulk delete.
const deleteConfirmation = "yes"

type deleteAllResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

// handleDeleteTestResults removes every matching test result. The request
// must carry confirm=yes.
func (s *server) handleDeleteTestResults(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("confirm") != deleteConfirmation {
		s.writeError(w, http.StatusBadRequest,
			"Confirmation required. Add ?confirm=yes to the request to confirm deletion.",
			nil)

		return
	}

	filter, err := parseFilter(query)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)

		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()

	deleted, err := s.store.DeleteTestResults(ctx, filter)
	if err != nil {
		s.writeStoreError(w, err, "delete_all", filterFields(filter, store.Page{}),
			"Failed to delete test results")

		return
	}

	writeJSON(w, http.StatusOK, deleteAllResponse{
		Message: fmt.Sprintf("Deleted %d test results", deleted),
		Deleted: deleted,
	})
}

// handleStats returns aggregate statistics over the matching test results.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)

		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()

	stats, err := s.store.Stats(ctx, filter)
	if err != nil {
		s.writeStoreError(w, err, "stats", filterFields(filter, store.Page{}),
			"Failed to compute statistics")

		return
	}

	writeJSON(w, http.StatusOK, stats)
}
