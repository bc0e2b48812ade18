// Package httpapi exposes the candidate pool over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	app "github.com/vglm/addressology/internal/app"
	"github.com/vglm/addressology/internal/app/domain/miner"
	"github.com/vglm/addressology/internal/app/metrics"
	candidatesvc "github.com/vglm/addressology/internal/app/services/candidates"
	"github.com/vglm/addressology/internal/app/services/intake"
	jobsvc "github.com/vglm/addressology/internal/app/services/jobs"
	"github.com/vglm/addressology/internal/app/storage"
	"github.com/vglm/addressology/pkg/logger"
)

// ownerHeader identifies the caller. Authentication proper sits in front of
// this service; the header is trusted as-is.
const ownerHeader = "X-User-Id"

type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logger.Logger
}

// NewHandler returns the instrumented REST router.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(os.Getenv("AUDIT_LOG_PATH"))
	if err != nil {
		log.WithError(err).Warnf("audit sink disabled")
	}
	h := &handler{app: application, audit: newAuditLog(0, sink), log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/candidates/batch", h.submitBatch).Methods(http.MethodPost)
	r.HandleFunc("/candidates", h.listCandidates).Methods(http.MethodGet)
	r.HandleFunc("/candidates/{address}", h.getCandidate).Methods(http.MethodGet)
	r.HandleFunc("/candidates/{address}/reserve", h.reserveCandidate).Methods(http.MethodPost)
	r.HandleFunc("/candidates/{address}/reprice", h.repriceCandidate).Methods(http.MethodPost)

	r.HandleFunc("/jobs", h.createJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", h.getJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/finish", h.finishJob).Methods(http.MethodPost)

	r.HandleFunc("/miners", h.createMiner).Methods(http.MethodPost)
	r.HandleFunc("/miners/{id}", h.getMiner).Methods(http.MethodGet)

	r.HandleFunc("/factories", h.listFactories).Methods(http.MethodGet)
	r.HandleFunc("/public-keys", h.listPublicKeys).Methods(http.MethodGet)
	r.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	return metrics.InstrumentHandler(r)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- candidates -------------------------------------------------------------

func (h *handler) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req intake.BatchRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.OwnerID = r.Header.Get(ownerHeader)

	summary, err := h.app.Intake.SubmitBatch(r.Context(), req)
	status := http.StatusOK
	switch {
	case errors.Is(err, intake.ErrValidation):
		status = http.StatusBadRequest
	case err != nil:
		// Entry-level failures never surface here; anything else is
		// batch-fatal, including an unknown or finished job.
		status = http.StatusInternalServerError
		h.log.WithError(err).Error("batch submission failed")
	}
	h.audit.add(auditEntry{
		Time:       time.Now().UTC(),
		Owner:      req.OwnerID,
		JobID:      req.Extra.JobID,
		Entries:    len(req.Entries),
		Accepted:   summary.EntriesAccepted,
		Rejected:   summary.EntriesRejected,
		Status:     status,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		writeError(w, status, err)
		return
	}
	writeJSON(w, status, summary)
}

func (h *handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.CandidateFilter{
		Category: q.Get("category"),
		Free:     q.Get("free") == "true",
		OwnerID:  q.Get("owner"),
		OrderBy:  q.Get("order"),
	}
	if v := q.Get("minScore"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("minScore must be a number"))
			return
		}
		f.MinScore = score
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("limit must be an integer"))
			return
		}
		f.Limit = limit
	}

	list, err := h.app.Candidates.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getCandidate(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Candidates.Get(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) reserveCandidate(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Candidates.Reserve(r.Context(), mux.Vars(r)["address"], r.Header.Get(ownerHeader))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) repriceCandidate(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Candidates.Reprice(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- jobs -------------------------------------------------------------------

func (h *handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req jobsvc.CreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.RequestorID == "" {
		req.RequestorID = r.Header.Get(ownerHeader)
	}

	j, err := h.app.Jobs.Create(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.JobFilter{
		RequestorID: q.Get("requestor"),
		OnlyActive:  q.Get("active") == "true",
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("limit must be an integer"))
			return
		}
		f.Limit = limit
	}

	list, err := h.app.Jobs.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.app.Jobs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handler) finishJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.app.Jobs.Finish(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// --- miners -----------------------------------------------------------------

func (h *handler) createMiner(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name       string `json:"name"`
		NodeID     string `json:"nodeId"`
		RewardAddr string `json:"rewardAddr"`
		ExtraInfo  string `json:"extraInfo"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	m := miner.Miner{
		ID:         uuid.NewString(),
		Name:       payload.Name,
		NodeID:     payload.NodeID,
		RewardAddr: payload.RewardAddr,
		ExtraInfo:  payload.ExtraInfo,
	}
	if err := h.app.Store.InsertMiner(r.Context(), m); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *handler) getMiner(w http.ResponseWriter, r *http.Request) {
	m, err := h.app.Store.GetMiner(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- registry ---------------------------------------------------------------

func (h *handler) listFactories(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Store.ListFactories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) listPublicKeys(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Store.ListPublicKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// --- helpers ----------------------------------------------------------------

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, jobsvc.ErrValidation), errors.Is(err, candidatesvc.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// Server-side failures carry driver and connectivity detail; callers
	// only get the generic message.
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
