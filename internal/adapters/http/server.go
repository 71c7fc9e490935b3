package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdr.dev/slog/v3"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/ports"
	"ospoolreport/internal/services/render"
)

// InlineRunner processes a queued job synchronously.
type InlineRunner interface {
	ProcessInline(ctx context.Context, jobID string) (domain.ReportJob, error)
}

const (
	defaultWaitTimeout = 30 * time.Minute
	defaultDays        = 365
)

type Server struct {
	reports  ports.ReportRepository
	jobs     ports.JobRepository
	runner   InlineRunner
	gatherer prometheus.Gatherer
	log      slog.Logger
}

func New(reports ports.ReportRepository, jobs ports.JobRepository, runner InlineRunner, gatherer prometheus.Gatherer, log slog.Logger) *Server {
	return &Server{reports: reports, jobs: jobs, runner: runner, gatherer: gatherer, log: log.Named("http")}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.getHealthz)
	r.Post("/reports", s.postReport)
	r.Get("/reports/latest", s.getLatestReport)
	r.Get("/reports/{id}", s.getReport)
	r.Get("/reports/{id}/unmapped/{category}", s.getUnmapped)
	r.Get("/jobs/{id}", s.getJob)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type jobResponse struct {
	ID       string `json:"id"`
	Days     int    `json:"days"`
	Status   string `json:"status"`
	ReportID string `json:"report_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func toJobResponse(j domain.ReportJob) jobResponse {
	return jobResponse{ID: j.ID, Days: j.Days, Status: j.Status, ReportID: j.ReportID, Error: j.Error}
}

type acceptedResponse struct {
	JobID string `json:"job_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// postReport enqueues a run. With wait=true the run happens in the request
// and the finished job is returned.
func (s *Server) postReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := defaultDays
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "days must be a positive integer"})
			return
		}
		days = n
	}

	ctx := r.Context()
	id, err := s.jobs.Enqueue(ctx, days)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	wait, _ := strconv.ParseBool(q.Get("wait"))
	if !wait || s.runner == nil {
		writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: id})
		return
	}

	timeout := defaultWaitTimeout
	if v := q.Get("timeout"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	job, err := s.runner.ProcessInline(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		// A background worker claimed the job first.
		writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: id})
		return
	}
	if err != nil {
		// The job row carries the failure reason.
		if failed, jerr := s.jobs.Job(context.WithoutCancel(ctx), id); jerr == nil && failed.Status == domain.JobFailed {
			writeJSON(w, http.StatusInternalServerError, toJobResponse(failed))
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) getLatestReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.LatestReport(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeReport(w, r, rep)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeReport(w, r, rep)
}

// writeReport renders rep as JSON, or as csv, html or text when asked via
// the format query parameter.
func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, rep domain.Report) {
	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, rep)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+rep.GeneratedAt.Format(domain.DateLayout)+`_OSPool_`+render.Label(rep.Days)+`_Summary.csv"`)
		_, _ = w.Write(render.CSV(rep))
	case "html":
		page, err := render.HTML(rep)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(render.Text(rep)))
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown format"})
	}
}

func (s *Server) getUnmapped(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if category != domain.UnmappedResources && category != domain.UnmappedProjects {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown category"})
		return
	}
	rep, err := s.reports.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(render.Unmapped(rep.Unmapped[category]))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ports.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	s.log.Error(r.Context(), "request failed",
		slog.F("method", r.Method),
		slog.F("path", r.URL.Path),
		slog.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug(r.Context(), "request",
			slog.F("method", r.Method),
			slog.F("path", r.URL.Path),
			slog.F("status", ww.Status()),
			slog.F("request_id", middleware.GetReqID(r.Context())),
			slog.F("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
