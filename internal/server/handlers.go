package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"

	"github.com/metriclens/metriclens/internal/core"
	apperrors "github.com/metriclens/metriclens/internal/errors"
)

// Version info is injected from main via SetVersionInfo.
var (
	appVersion   = "dev"
	appCommit    = "unknown"
	appBuildDate = "unknown"
)

// SetVersionInfo sets the version information reported by the server.
func SetVersionInfo(version, commit, buildDate string) {
	appVersion = version
	appCommit = commit
	appBuildDate = buildDate
}

type auditHandler struct {
	runner       Runner
	store        AuditStore
	lookbackDays int
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (h *auditHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	status := "healthy"
	if checker, ok := h.store.(HealthChecker); ok && checker != nil {
		if err := checker.CheckHealth(checkCtx); err != nil {
			checks["store"] = "unhealthy"
			status = "unhealthy"
		} else {
			checks["store"] = "healthy"
		}
	}

	if status == "unhealthy" {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health check failed")
		envelope = envelope.WithDetails(map[string]interface{}{"checks": checks})
		apperrors.RespondWithEnvelope(w, r, envelope)
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Version:   appVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

func livenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type versionResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{
		Name:      "metriclens",
		Version:   appVersion,
		Commit:    appCommit,
		BuildDate: appBuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	})
}

type createAuditRequest struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Days  int    `json:"days,omitempty"`
}

// createHandler runs a full extraction synchronously and returns the
// completed dataset. Runs take minutes on low tiers; callers are expected
// to hold the connection open.
func (h *auditHandler) createHandler(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		HandleError(w, r, apperrors.NewInternalError("extraction runner is not configured"))
		return
	}

	var req createAuditRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
			HandleError(w, r, apperrors.NewInvalidInputError("invalid request body: "+err.Error()))
			return
		}
	}

	timeframe, err := h.timeframe(req)
	if err != nil {
		HandleError(w, r, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	dataset, err := h.runner.Run(r.Context(), timeframe)
	if err != nil {
		HandleError(w, r, apperrors.NewConflictError(err.Error()))
		return
	}

	if h.store != nil {
		if err := h.store.SaveRun(r.Context(), dataset); err != nil {
			HandleError(w, r, apperrors.NewDatabaseError("failed to persist run: "+err.Error()))
			return
		}
	}

	writeJSON(w, http.StatusOK, dataset)
}

func (h *auditHandler) timeframe(req createAuditRequest) (core.DateRange, error) {
	if req.Start != "" || req.End != "" {
		start, err := time.Parse("2006-01-02", req.Start)
		if err != nil {
			return core.DateRange{}, err
		}
		end, err := time.Parse("2006-01-02", req.End)
		if err != nil {
			return core.DateRange{}, err
		}
		return core.ExplicitRange(start, end)
	}

	days := req.Days
	if days < 1 {
		days = h.lookbackDays
	}
	return core.RangeFromDays(days, time.Now()), nil
}

func (h *auditHandler) listHandler(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		HandleError(w, r, apperrors.NewInternalError("run store is not configured"))
		return
	}

	records, err := h.store.ListRuns(r.Context(), 20)
	if err != nil {
		HandleError(w, r, apperrors.NewDatabaseError(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func (h *auditHandler) getHandler(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		HandleError(w, r, apperrors.NewInternalError("run store is not configured"))
		return
	}

	runID := chi.URLParam(r, "runID")
	record, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		HandleError(w, r, apperrors.NewDatabaseError(err.Error()))
		return
	}
	if record == nil {
		HandleError(w, r, apperrors.NewNotFoundError("run not found: "+runID))
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
