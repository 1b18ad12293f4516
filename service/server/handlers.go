package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/txsearch"
)

const maxRequestBodySize = 1 << 16

// HistoryFetcher produces account reports.
type HistoryFetcher interface {
	Fetch(ctx context.Context, req history.Request) (*history.Report, error)
}

// WorkflowStarter starts durable history fetches.
type WorkflowStarter interface {
	StartFetchHistory(ctx context.Context, req history.Request) (workflowID, runID string, err error)
}

// handleGetHistory returns a handler that fetches an account's history.
// GET /api/v1/accounts/{address}/history?angles=core,ibc&min_height=N&max_height=N&refresh=true
func handleGetHistory(fetcher HistoryFetcher, cache *ReportCache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report, status, err := loadReport(r, fetcher, cache, logger)
		if err != nil {
			writeError(w, err.Error(), status)
			return
		}
		writeJSON(w, report, http.StatusOK)
	})
}

// handleGetSummary returns a handler that returns only the summary of an
// account's history.
// GET /api/v1/accounts/{address}/summary
func handleGetSummary(fetcher HistoryFetcher, cache *ReportCache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report, status, err := loadReport(r, fetcher, cache, logger)
		if err != nil {
			writeError(w, err.Error(), status)
			return
		}
		writeJSON(w, report.Summary, http.StatusOK)
	})
}

// handleListAngles returns the catalogue of query angles.
// GET /api/v1/angles
func handleListAngles() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		angles := txsearch.Catalogue()
		writeJSON(w, map[string]any{
			"angles":   angles,
			"defaults": txsearch.DefaultAngles(),
			"count":    len(angles),
		}, http.StatusOK)
	})
}

type startWorkflowRequest struct {
	Angles    []string `json:"angles"`
	MinHeight int64    `json:"min_height"`
	MaxHeight int64    `json:"max_height"`
}

// handleStartWorkflow returns a handler that starts a durable history fetch.
// POST /api/v1/accounts/{address}/history/workflows
func handleStartWorkflow(starter WorkflowStarter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body startWorkflowRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writeError(w, "request body too large", http.StatusBadRequest)
					return
				}
				writeError(w, "invalid request body", http.StatusBadRequest)
				return
			}
		}

		req := history.Request{
			Account:   r.PathValue("address"),
			Angles:    body.Angles,
			MinHeight: body.MinHeight,
			MaxHeight: body.MaxHeight,
		}
		if _, err := history.Plan(req, nil); err != nil {
			logger.Debug("invalid workflow request", "account", req.Account, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		workflowID, runID, err := starter.StartFetchHistory(r.Context(), req)
		if err != nil {
			logger.Error("failed to start fetch workflow", "account", req.Account, "error", err)
			writeError(w, "failed to start workflow", http.StatusInternalServerError)
			return
		}

		logger.Info("fetch workflow started",
			"account", req.Account,
			"workflow_id", workflowID,
			"run_id", runID,
		)
		writeJSON(w, map[string]string{
			"workflow_id": workflowID,
			"run_id":      runID,
		}, http.StatusAccepted)
	})
}

// loadReport parses the request, consults the cache and fetches on a miss.
// The returned status is meaningful only when err is non-nil.
func loadReport(r *http.Request, fetcher HistoryFetcher, cache *ReportCache, logger *slog.Logger) (*history.Report, int, error) {
	req, refresh, err := parseHistoryRequest(r)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	if err := history.ValidateAccount(req.Account); err != nil {
		return nil, http.StatusBadRequest, err
	}

	if !refresh {
		if report, ok := cache.Get(req); ok {
			logger.Debug("report cache hit", "account", req.Account, "run_id", report.RunID)
			return report, http.StatusOK, nil
		}
	}

	report, err := fetcher.Fetch(r.Context(), req)
	if err != nil {
		if errors.Is(err, history.ErrInvalidRequest) {
			return nil, http.StatusBadRequest, err
		}
		logger.Error("failed to fetch history", "account", req.Account, "error", err)
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to fetch history")
	}
	cache.Add(req, report)
	return report, http.StatusOK, nil
}

func parseHistoryRequest(r *http.Request) (history.Request, bool, error) {
	query := r.URL.Query()
	req := history.Request{Account: r.PathValue("address")}

	if angles := query.Get("angles"); angles != "" {
		for a := range strings.SplitSeq(angles, ",") {
			if a = strings.TrimSpace(a); a != "" {
				req.Angles = append(req.Angles, a)
			}
		}
	}

	var err error
	if req.MinHeight, err = parseHeight(query.Get("min_height")); err != nil {
		return req, false, fmt.Errorf("invalid min_height parameter: %w", err)
	}
	if req.MaxHeight, err = parseHeight(query.Get("max_height")); err != nil {
		return req, false, fmt.Errorf("invalid max_height parameter: %w", err)
	}

	refresh := false
	if v := query.Get("refresh"); v != "" {
		if refresh, err = strconv.ParseBool(v); err != nil {
			return req, false, fmt.Errorf("invalid refresh parameter: must be a boolean")
		}
	}
	return req, refresh, nil
}

func parseHeight(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	h, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if h < 0 {
		return 0, fmt.Errorf("cannot be negative")
	}
	return h, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
