package services

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/bilheteria/backend/internal/reconcile"
	"github.com/bilheteria/backend/internal/store"
)

// ReconcileService exposes the reconciliation job to the back office:
// outcome history, counters and a manual trigger.
type ReconcileService struct {
	job     *reconcile.Job
	audit   *store.Audit
	metrics *reconcile.Metrics
	log     *zap.Logger
}

func NewReconcileService(job *reconcile.Job, audit *store.Audit, metrics *reconcile.Metrics, log *zap.Logger) *ReconcileService {
	return &ReconcileService{job: job, audit: audit, metrics: metrics, log: log}
}

// ListOutcomes returns recent reconciliation outcomes
// @Summary List reconciliation outcomes
// @Tags admin
// @Produce json
// @Param limit query int false "Max rows (default 100)"
// @Success 200 {object} map[string]any
// @Router /admin/reconcile/outcomes [get]
func (s *ReconcileService) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
			return
		}
		limit = parsed
	}

	outcomes, err := s.audit.ListRecent(r.Context(), limit)
	if err != nil {
		s.log.Error("outcome list failed", zap.Error(err))
		SendErrorResponse(w, "Failed to list outcomes", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}

// Metrics returns per-outcome counters
// @Summary Reconciliation metrics
// @Description Counters per outcome kind for the most recent cycle and cumulative
// @Tags admin
// @Produce json
// @Success 200 {object} reconcile.Snapshot
// @Router /admin/reconcile/metrics [get]
func (s *ReconcileService) Metrics(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// RunNow triggers one reconciliation cycle
// @Summary Run reconciliation now
// @Description Execute one cycle immediately under the usual lease
// @Tags admin
// @Produce json
// @Success 200 {object} reconcile.CycleReport
// @Failure 409 {object} reconcile.CycleReport "Another instance holds the lease"
// @Router /admin/reconcile/run [post]
func (s *ReconcileService) RunNow(w http.ResponseWriter, r *http.Request) {
	s.log.Info("manual reconcile cycle requested")
	report := s.job.Run(r.Context())

	status := http.StatusOK
	if report.Skipped && report.SkipReason == "lock_busy" {
		status = http.StatusConflict
	}
	SendJSON(w, status, report)
}
