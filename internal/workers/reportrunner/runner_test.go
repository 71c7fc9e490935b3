package reportrunner

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3/sloggers/slogtest"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/metrics"
	"ospoolreport/internal/ports"
)

type memJobs struct {
	mu    sync.Mutex
	next  int
	order []string
	jobs  map[string]*domain.ReportJob
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[string]*domain.ReportJob{}} }

func (m *memJobs) Enqueue(_ context.Context, days int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := "job-" + strconv.Itoa(m.next)
	m.jobs[id] = &domain.ReportJob{ID: id, Days: days, Status: domain.JobQueued}
	m.order = append(m.order, id)
	return id, nil
}

func (m *memJobs) ClaimNext(context.Context) (domain.ReportJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if j := m.jobs[id]; j.Status == domain.JobQueued {
			j.Status = domain.JobRunning
			return *j, true, nil
		}
	}
	return domain.ReportJob{}, false, nil
}

func (m *memJobs) StartJob(_ context.Context, id string) (domain.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobQueued {
		return domain.ReportJob{}, ports.ErrNotFound
	}
	j.Status = domain.JobRunning
	return *j, nil
}

func (m *memJobs) MarkCompleted(_ context.Context, id, reportID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = domain.JobCompleted
	m.jobs[id].ReportID = reportID
	return nil
}

func (m *memJobs) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = domain.JobFailed
	m.jobs[id].Error = reason
	return nil
}

func (m *memJobs) Job(_ context.Context, id string) (domain.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ReportJob{}, ports.ErrNotFound
	}
	return *j, nil
}

type fakeReporter struct {
	mu   sync.Mutex
	days []int
	fail map[int]error
}

func (f *fakeReporter) Generate(_ context.Context, days int) (domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = append(f.days, days)
	if err := f.fail[days]; err != nil {
		return domain.Report{}, err
	}
	return domain.Report{ID: "report-" + strconv.Itoa(days), Days: days}, nil
}

func TestRunDrainsQueue(t *testing.T) {
	t.Parallel()

	jobs := newMemJobs()
	reporter := &fakeReporter{fail: map[int]error{30: xerrors.New("event store unreachable")}}
	reg := prometheus.NewRegistry()
	r := New(jobs, reporter, metrics.New(reg), slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	okID, _ := jobs.Enqueue(ctx, 365)
	badID, _ := jobs.Enqueue(ctx, 30)

	done := make(chan struct{})
	go func() {
		r.Run(ctx, 2, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		a, _ := jobs.Job(ctx, okID)
		b, _ := jobs.Job(ctx, badID)
		return a.Status == domain.JobCompleted && b.Status == domain.JobFailed
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	ok, _ := jobs.Job(context.Background(), okID)
	assert.Equal(t, "report-365", ok.ReportID)
	bad, _ := jobs.Job(context.Background(), badID)
	assert.Contains(t, bad.Error, "event store unreachable")
	assert.ElementsMatch(t, []int{365, 30}, reporter.days)

	n, err := testutil.GatherAndCount(reg, "ospool_report_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunZeroConcurrency(t *testing.T) {
	t.Parallel()

	jobs := newMemJobs()
	r := New(jobs, &fakeReporter{}, nil, slogtest.Make(t, nil))
	// Returns immediately without a cancelled context.
	r.Run(context.Background(), 0, time.Millisecond)
}

func TestProcessInline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := newMemJobs()
	reporter := &fakeReporter{fail: map[int]error{7: xerrors.New("boom")}}
	r := New(jobs, reporter, nil, slogtest.Make(t, nil))

	id, _ := jobs.Enqueue(ctx, 90)
	job, err := r.ProcessInline(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, "report-90", job.ReportID)

	// A job that already ran cannot be started again.
	_, err = r.ProcessInline(ctx, id)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	failing, _ := jobs.Enqueue(ctx, 7)
	_, err = r.ProcessInline(ctx, failing)
	require.Error(t, err)
	job, _ = jobs.Job(ctx, failing)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, "boom", job.Error)
}

func TestScheduler(t *testing.T) {
	t.Parallel()

	jobs := newMemJobs()
	log := slogtest.Make(t, nil)

	_, err := NewScheduler("not a schedule", 365, jobs, log)
	require.Error(t, err)
	_, err = NewScheduler("0 6 1 * *", 0, jobs, log)
	require.Error(t, err)

	s, err := NewScheduler("0 6 1 * *", 365, jobs, log)
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 1)

	s.cron.Entries()[0].Job.Run()
	job, found, err := jobs.ClaimNext(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 365, job.Days)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
