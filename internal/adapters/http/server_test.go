package httpadapter_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3/sloggers/slogtest"

	httpadapter "ospoolreport/internal/adapters/http"
	"ospoolreport/internal/domain"
	"ospoolreport/internal/metrics"
	"ospoolreport/internal/ports"
)

type fakeReports struct {
	byID map[string]domain.Report
	err  error
}

func (f *fakeReports) SaveReport(context.Context, domain.Report) error { return nil }

func (f *fakeReports) GetReport(_ context.Context, id string) (domain.Report, error) {
	if f.err != nil {
		return domain.Report{}, f.err
	}
	r, ok := f.byID[id]
	if !ok {
		return domain.Report{}, ports.ErrNotFound
	}
	return r, nil
}

func (f *fakeReports) LatestReport(context.Context) (domain.Report, error) {
	if f.err != nil {
		return domain.Report{}, f.err
	}
	if r, ok := f.byID["latest"]; ok {
		return r, nil
	}
	return domain.Report{}, ports.ErrNotFound
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]domain.ReportJob
}

func (f *fakeJobs) Enqueue(_ context.Context, days int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "job-1"
	f.jobs[id] = domain.ReportJob{ID: id, Days: days, Status: domain.JobQueued}
	return id, nil
}

func (f *fakeJobs) ClaimNext(context.Context) (domain.ReportJob, bool, error) {
	return domain.ReportJob{}, false, nil
}

func (f *fakeJobs) StartJob(_ context.Context, id string) (domain.ReportJob, error) {
	return f.Job(context.Background(), id)
}

func (f *fakeJobs) MarkCompleted(context.Context, string, string) error { return nil }
func (f *fakeJobs) MarkFailed(context.Context, string, string) error    { return nil }

func (f *fakeJobs) Job(_ context.Context, id string) (domain.ReportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.ReportJob{}, ports.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) set(j domain.ReportJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
}

type fakeRunner struct {
	jobs *fakeJobs
	err  error
}

func (f *fakeRunner) ProcessInline(_ context.Context, id string) (domain.ReportJob, error) {
	j, err := f.jobs.Job(context.Background(), id)
	if err != nil {
		return domain.ReportJob{}, err
	}
	if f.err != nil {
		j.Status, j.Error = domain.JobFailed, f.err.Error()
		f.jobs.set(j)
		return domain.ReportJob{}, f.err
	}
	j.Status, j.ReportID = domain.JobCompleted, "report-1"
	f.jobs.set(j)
	return j, nil
}

func sampleReport() domain.Report {
	return domain.Report{
		ID:          "report-1",
		GeneratedAt: time.Date(2024, 3, 31, 6, 0, 0, 0, time.UTC),
		Days:        365,
		Total:       domain.MonthlyDocument{Date: domain.TotalKey, Sums: domain.Sums{TotalJobs: 1234}},
		Months:      []domain.MonthlyDocument{{Date: "2023-04-01", Sums: domain.Sums{TotalJobs: 1234}}},
		Unmapped: map[string][]domain.UnmappedRecord{
			domain.UnmappedResources: {{RawKey: "mystery-ce", LastSeen: time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)}},
		},
	}
}

func newServer(t *testing.T, reports *fakeReports, runnerErr error) (*httptest.Server, *fakeJobs) {
	t.Helper()

	jobs := &fakeJobs{jobs: map[string]domain.ReportJob{}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.JobFinished(domain.JobCompleted)

	log := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	srv := httpadapter.New(reports, jobs, &fakeRunner{jobs: jobs, err: runnerErr}, reg, log)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, jobs
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func post(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	res, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &fakeReports{}, nil)
	res, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestPostReport(t *testing.T) {
	t.Parallel()

	t.Run("Async", func(t *testing.T) {
		t.Parallel()
		ts, jobs := newServer(t, &fakeReports{}, nil)
		res, body := post(t, ts.URL+"/reports?days=90")
		assert.Equal(t, http.StatusAccepted, res.StatusCode)
		assert.JSONEq(t, `{"job_id":"job-1"}`, body)
		j, err := jobs.Job(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, 90, j.Days)
		assert.Equal(t, domain.JobQueued, j.Status)
	})

	t.Run("DefaultDays", func(t *testing.T) {
		t.Parallel()
		ts, jobs := newServer(t, &fakeReports{}, nil)
		res, _ := post(t, ts.URL+"/reports")
		assert.Equal(t, http.StatusAccepted, res.StatusCode)
		j, _ := jobs.Job(context.Background(), "job-1")
		assert.Equal(t, 365, j.Days)
	})

	t.Run("BadDays", func(t *testing.T) {
		t.Parallel()
		ts, _ := newServer(t, &fakeReports{}, nil)
		for _, v := range []string{"0", "-3", "year"} {
			res, _ := post(t, ts.URL+"/reports?days="+v)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode, v)
		}
	})

	t.Run("Wait", func(t *testing.T) {
		t.Parallel()
		ts, _ := newServer(t, &fakeReports{}, nil)
		res, body := post(t, ts.URL+"/reports?days=30&wait=true")
		assert.Equal(t, http.StatusOK, res.StatusCode)
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &got))
		assert.Equal(t, "completed", got["status"])
		assert.Equal(t, "report-1", got["report_id"])
	})

	t.Run("WaitFailure", func(t *testing.T) {
		t.Parallel()
		ts, _ := newServer(t, &fakeReports{}, xerrors.New("query window 2024-01-01: timeout"))
		res, body := post(t, ts.URL+"/reports?wait=true&timeout=5")
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
		assert.Contains(t, body, `"status":"failed"`)
		assert.Contains(t, body, "timeout")
	})
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	ts, jobs := newServer(t, &fakeReports{}, nil)
	jobs.set(domain.ReportJob{ID: "abc", Days: 365, Status: domain.JobFailed, Error: "boom"})

	res, body := get(t, ts.URL+"/jobs/abc")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"id":"abc","days":365,"status":"failed","error":"boom"}`, body)

	res, _ = get(t, ts.URL+"/jobs/missing")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestGetReport(t *testing.T) {
	t.Parallel()

	rep := sampleReport()
	ts, _ := newServer(t, &fakeReports{byID: map[string]domain.Report{"report-1": rep, "latest": rep}}, nil)

	res, body := get(t, ts.URL+"/reports/report-1")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var got domain.Report
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, rep.ID, got.ID)
	assert.EqualValues(t, 1234, got.Total.TotalJobs)

	res, body = get(t, ts.URL+"/reports/latest?format=csv")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "2024-03-31_OSPool_1Year_Summary.csv")
	assert.True(t, strings.HasPrefix(body, "Month Starting,"))

	res, body = get(t, ts.URL+"/reports/report-1?format=html")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "<table")

	res, _ = get(t, ts.URL+"/reports/report-1?format=pdf")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = get(t, ts.URL+"/reports/nope")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestGetLatestReportErrors(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &fakeReports{}, nil)
	res, _ := get(t, ts.URL+"/reports/latest")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	ts, _ = newServer(t, &fakeReports{err: xerrors.New("connection refused")}, nil)
	res, body := get(t, ts.URL+"/reports/latest")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.NotContains(t, body, "connection refused")
}

func TestGetUnmapped(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &fakeReports{byID: map[string]domain.Report{"report-1": sampleReport()}}, nil)

	res, body := get(t, ts.URL+"/reports/report-1/unmapped/resources")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "2024-03-30 mystery-ce\n", body)

	res, body = get(t, ts.URL+"/reports/report-1/unmapped/projects")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, body)

	res, _ = get(t, ts.URL+"/reports/report-1/unmapped/users")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &fakeReports{}, nil)
	res, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `ospool_report_jobs_total{status="completed"} 1`)
}
