package download

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/store"
	"github.com/tunevault/tunevault-go/internal/timestamps"
)

// gateProcessor blocks each job until the test releases its URL
type gateProcessor struct {
	started chan Job

	mu    sync.Mutex
	gates map[string]chan error
}

func newGateProcessor() *gateProcessor {
	return &gateProcessor{
		started: make(chan Job, 32),
		gates:   make(map[string]chan error),
	}
}

func (p *gateProcessor) gate(url string) chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[url]
	if !ok {
		g = make(chan error, 1)
		p.gates[url] = g
	}
	return g
}

func (p *gateProcessor) release(url string, err error) {
	p.gate(url) <- err
}

func (p *gateProcessor) Process(ctx context.Context, job Job, report func(Progress)) (Outcome, error) {
	p.started <- job
	select {
	case err := <-p.gate(job.SourceURL):
		return Outcome{Title: "title of " + job.SourceURL, TracksAdded: 1}, err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func waitStarted(t *testing.T, p *gateProcessor) Job {
	t.Helper()
	select {
	case j := <-p.started:
		return j
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a job to start")
		return Job{}
	}
}

func expectNoStart(t *testing.T, p *gateProcessor, wait time.Duration) {
	t.Helper()
	select {
	case j := <-p.started:
		t.Fatalf("unexpected start of %s", j.SourceURL)
	case <-time.After(wait):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testOptions() Options {
	return Options{
		Debounce:       10 * time.Millisecond,
		CompletedGrace: time.Hour,
		FailedGrace:    time.Hour,
	}
}

func startQueue(t *testing.T, p Processor, opts Options) *Queue {
	t.Helper()
	q := NewQueue(p, opts)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func mustSubmit(t *testing.T, q *Queue, owner, url string) string {
	t.Helper()
	id, err := q.Submit(owner, JobSpec{SourceURL: url})
	if err != nil {
		t.Fatalf("Submit(%s) failed: %v", url, err)
	}
	return id
}

func statusOf(q *Queue, id string) Status {
	j, ok := q.GetJob(id)
	if !ok {
		return ""
	}
	return j.Status
}

func countDownloading(jobs []Job) int {
	n := 0
	for _, j := range jobs {
		if j.Status == StatusDownloading {
			n++
		}
	}
	return n
}

func TestQueueRunsOwnerJobsInOrder(t *testing.T) {
	p := newGateProcessor()
	q := startQueue(t, p, testOptions())

	urls := []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"}
	ids := make([]string, len(urls))
	for i, u := range urls {
		ids[i] = mustSubmit(t, q, "alice", u)
	}

	for i, u := range urls {
		got := waitStarted(t, p)
		if got.SourceURL != u {
			t.Fatalf("start %d: expected %s, got %s", i, u, got.SourceURL)
		}
		if n := countDownloading(q.GetJobs("alice")); n != 1 {
			t.Fatalf("expected exactly one downloading job, got %d", n)
		}
		for _, later := range ids[i+1:] {
			if s := statusOf(q, later); s != StatusPending {
				t.Errorf("expected later job pending, got %s", s)
			}
		}
		expectNoStart(t, p, 30*time.Millisecond)
		p.release(u, nil)
		waitFor(t, "completion", func() bool { return statusOf(q, ids[i]) == StatusCompleted })
	}

	jobs := q.GetJobs("alice")
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	for i, j := range jobs {
		if j.ID != ids[i] {
			t.Errorf("GetJobs order: position %d has %s, want %s", i, j.ID, ids[i])
		}
		if j.Progress != 100 || j.Title != "title of "+urls[i] {
			t.Errorf("unexpected completed job %+v", j)
		}
	}
}

func TestQueueOwnersRunInParallel(t *testing.T) {
	p := newGateProcessor()
	q := startQueue(t, p, testOptions())

	mustSubmit(t, q, "alice", "https://a.example/1")
	mustSubmit(t, q, "bob", "https://b.example/1")

	seen := map[string]bool{}
	seen[waitStarted(t, p).OwnerID] = true
	seen[waitStarted(t, p).OwnerID] = true
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("expected both owners running, got %v", seen)
	}
	if q.ActiveCount() != 2 {
		t.Errorf("expected 2 active owners, got %d", q.ActiveCount())
	}
	p.release("https://a.example/1", nil)
	p.release("https://b.example/1", nil)
}

func TestQueueMaxActiveOwners(t *testing.T) {
	p := newGateProcessor()
	opts := testOptions()
	opts.MaxActiveOwners = 1
	q := startQueue(t, p, opts)

	mustSubmit(t, q, "alice", "https://a.example/1")
	mustSubmit(t, q, "bob", "https://b.example/1")

	first := waitStarted(t, p)
	expectNoStart(t, p, 50*time.Millisecond)
	if q.ActiveCount() != 1 {
		t.Fatalf("expected 1 active owner, got %d", q.ActiveCount())
	}

	p.release(first.SourceURL, nil)
	second := waitStarted(t, p)
	if second.OwnerID == first.OwnerID {
		t.Fatalf("expected the other owner to run, got %s twice", first.OwnerID)
	}
	p.release(second.SourceURL, nil)
}

func TestQueuePauseResume(t *testing.T) {
	p := newGateProcessor()
	q := startQueue(t, p, testOptions())

	id1 := mustSubmit(t, q, "alice", "https://a.example/1")
	waitStarted(t, p)
	id2 := mustSubmit(t, q, "alice", "https://a.example/2")
	id3 := mustSubmit(t, q, "alice", "https://a.example/3")

	if err := q.Pause(id1); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("pausing a downloading job: expected ErrInvalidTransition, got %v", err)
	}
	if err := q.Resume(id3); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("resuming a pending job: expected ErrInvalidTransition, got %v", err)
	}
	if err := q.Pause(id2); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if s := statusOf(q, id2); s != StatusPaused {
		t.Fatalf("expected paused, got %s", s)
	}

	p.release("https://a.example/1", nil)
	if got := waitStarted(t, p); got.ID != id3 {
		t.Fatalf("expected paused job to be skipped, %s started", got.SourceURL)
	}

	if err := q.Resume(id2); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if s := statusOf(q, id2); s != StatusPending {
		t.Fatalf("expected pending after resume, got %s", s)
	}
	expectNoStart(t, p, 30*time.Millisecond)

	p.release("https://a.example/3", nil)
	if got := waitStarted(t, p); got.ID != id2 {
		t.Fatalf("expected resumed job next, got %s", got.SourceURL)
	}
	p.release("https://a.example/2", nil)
	waitFor(t, "resumed job completion", func() bool { return statusOf(q, id2) == StatusCompleted })

	jobs := q.GetJobs("alice")
	if jobs[1].ID != id2 {
		t.Errorf("paused job should keep its position")
	}
}

func TestQueueResumeWakesIdleOwner(t *testing.T) {
	p := newGateProcessor()
	q := NewQueue(p, testOptions())

	id := mustSubmit(t, q, "alice", "https://a.example/1")
	if err := q.Pause(id); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	q.Start(context.Background())
	defer q.Stop()
	expectNoStart(t, p, 30*time.Millisecond)

	if err := q.Resume(id); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := waitStarted(t, p); got.ID != id {
		t.Fatalf("expected %s to start", id)
	}
	p.release("https://a.example/1", nil)
}

func TestQueueCancel(t *testing.T) {
	p := newGateProcessor()
	hist := &recordingHistory{}
	opts := testOptions()
	opts.History = hist
	q := startQueue(t, p, opts)

	id1 := mustSubmit(t, q, "alice", "https://a.example/1")
	waitStarted(t, p)
	id2 := mustSubmit(t, q, "alice", "https://a.example/2")
	id3 := mustSubmit(t, q, "alice", "https://a.example/3")

	if err := q.Cancel(id3); err != nil {
		t.Fatalf("cancel pending failed: %v", err)
	}
	if _, ok := q.GetJob(id3); ok {
		t.Error("cancelled pending job still visible")
	}

	if err := q.Cancel(id1); err != nil {
		t.Fatalf("cancel running failed: %v", err)
	}
	if _, ok := q.GetJob(id1); ok {
		t.Error("cancelled running job still visible")
	}

	if got := waitStarted(t, p); got.ID != id2 {
		t.Fatalf("expected next job after cancel, got %s", got.SourceURL)
	}
	p.release("https://a.example/2", nil)
	waitFor(t, "completion", func() bool { return statusOf(q, id2) == StatusCompleted })

	if err := q.Cancel(id2); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("cancelling a completed job: expected ErrInvalidTransition, got %v", err)
	}
	if err := q.Cancel("missing"); !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	for _, r := range hist.all() {
		if r.ID == id1 || r.ID == id3 {
			t.Errorf("cancelled job %s should not be recorded", r.ID)
		}
	}
}

func TestQueueCancelFailedJobDismissesIt(t *testing.T) {
	p := newGateProcessor()
	q := startQueue(t, p, testOptions())

	id := mustSubmit(t, q, "alice", "https://a.example/1")
	waitStarted(t, p)
	p.release("https://a.example/1", errors.New("boom"))
	waitFor(t, "failure", func() bool { return statusOf(q, id) == StatusFailed })

	if err := q.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, ok := q.GetJob(id); ok {
		t.Error("dismissed job still visible")
	}
}

func TestQueueFailureAdvances(t *testing.T) {
	p := newGateProcessor()
	opts := testOptions()
	opts.MaxErrorLength = 20
	q := startQueue(t, p, opts)

	id1 := mustSubmit(t, q, "alice", "https://a.example/1")
	id2 := mustSubmit(t, q, "alice", "https://a.example/2")

	waitStarted(t, p)
	p.release("https://a.example/1", apperrors.NewSourceError(strings.Repeat("x", 100), nil))

	if got := waitStarted(t, p); got.ID != id2 {
		t.Fatalf("expected queue to advance to %s", id2)
	}
	j, ok := q.GetJob(id1)
	if !ok || j.Status != StatusFailed {
		t.Fatalf("expected failed job, got %+v", j)
	}
	if n := len([]rune(j.Error)); n != 20 {
		t.Errorf("expected error bounded to 20 runes, got %d: %q", n, j.Error)
	}
	p.release("https://a.example/2", nil)
}

func TestQueueDebounceBetweenJobs(t *testing.T) {
	p := newGateProcessor()
	opts := testOptions()
	opts.Debounce = 150 * time.Millisecond
	q := startQueue(t, p, opts)

	mustSubmit(t, q, "alice", "https://a.example/1")
	mustSubmit(t, q, "alice", "https://a.example/2")

	waitStarted(t, p)
	released := time.Now()
	p.release("https://a.example/1", nil)
	waitStarted(t, p)
	if elapsed := time.Since(released); elapsed < 120*time.Millisecond {
		t.Errorf("next job started after %v, expected the debounce to hold it", elapsed)
	}
	p.release("https://a.example/2", nil)
}

func TestQueueGarbageCollectsFinishedJobs(t *testing.T) {
	p := newGateProcessor()
	opts := testOptions()
	opts.CompletedGrace = 30 * time.Millisecond
	opts.FailedGrace = time.Hour
	q := startQueue(t, p, opts)
	sub := q.Subscribe(64)

	ok := mustSubmit(t, q, "alice", "https://a.example/ok")
	bad := mustSubmit(t, q, "alice", "https://a.example/bad")

	waitStarted(t, p)
	p.release("https://a.example/ok", nil)
	waitStarted(t, p)
	p.release("https://a.example/bad", errors.New("unreachable"))

	waitFor(t, "completed job removal", func() bool {
		_, found := q.GetJob(ok)
		return !found
	})
	time.Sleep(60 * time.Millisecond)
	if s := statusOf(q, bad); s != StatusFailed {
		t.Errorf("failed job should outlive its grace, got %q", s)
	}

	var removed bool
	for !removed {
		select {
		case e := <-sub.Events():
			removed = e.Type == EventJobRemoved && e.Job.ID == ok
		case <-time.After(time.Second):
			t.Fatal("no removal event")
		}
	}
}

func TestQueueProgressThrottle(t *testing.T) {
	proc := ProcessorFunc(func(ctx context.Context, job Job, report func(Progress)) (Outcome, error) {
		for pct := 1; pct <= 20; pct++ {
			report(Progress{Percent: float64(pct), Message: "Downloading"})
		}
		report(Progress{Percent: 20, Message: "Splitting"})
		return Outcome{Title: "done"}, nil
	})
	opts := testOptions()
	opts.ProgressInterval = time.Hour
	q := NewQueue(proc, opts)
	sub := q.Subscribe(256)
	q.Start(context.Background())
	defer q.Stop()

	mustSubmit(t, q, "alice", "https://a.example/1")

	var percents []float64
	var messages []string
	for {
		select {
		case e := <-sub.Events():
			if e.Type == EventJobReady {
				want := []float64{1, 6, 11, 16, 20}
				if fmt.Sprint(percents) != fmt.Sprint(want) {
					t.Errorf("progress events %v, want %v", percents, want)
				}
				if messages[len(messages)-1] != "Splitting" {
					t.Errorf("message change should emit, got %v", messages)
				}
				if e.Job.Status != StatusCompleted {
					t.Errorf("expected completed, got %s", e.Job.Status)
				}
				return
			}
			if e.Job.Status == StatusDownloading && e.Job.Progress > 0 {
				percents = append(percents, e.Job.Progress)
				messages = append(messages, e.Job.Message)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

type recordingHistory struct {
	mu      sync.Mutex
	records []store.JobRecord
}

func (h *recordingHistory) Record(ctx context.Context, r *store.JobRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *r)
	return nil
}

func (h *recordingHistory) all() []store.JobRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]store.JobRecord(nil), h.records...)
}

func TestQueueRecordsHistory(t *testing.T) {
	p := newGateProcessor()
	hist := &recordingHistory{}
	opts := testOptions()
	opts.History = hist
	q := startQueue(t, p, opts)

	id1 := mustSubmit(t, q, "alice", "https://a.example/1")
	id2 := mustSubmit(t, q, "alice", "https://a.example/2")
	waitStarted(t, p)
	p.release("https://a.example/1", nil)
	waitStarted(t, p)
	p.release("https://a.example/2", errors.New("nope"))

	waitFor(t, "history", func() bool { return len(hist.all()) == 2 })
	recs := hist.all()
	if recs[0].ID != id1 || recs[0].Status != "completed" || recs[0].TracksAdded != 1 {
		t.Errorf("unexpected first record %+v", recs[0])
	}
	if recs[1].ID != id2 || recs[1].Status != "failed" || recs[1].ErrorMessage != "nope" {
		t.Errorf("unexpected second record %+v", recs[1])
	}
}

func TestQueueStop(t *testing.T) {
	p := newGateProcessor()
	q := NewQueue(p, testOptions())
	q.Start(context.Background())

	mustSubmit(t, q, "alice", "https://a.example/1")
	waitStarted(t, p)

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if _, err := q.Submit("alice", JobSpec{SourceURL: "https://a.example/2"}); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("expected ErrQueueStopped, got %v", err)
	}
	q.Stop()
}

func TestSubmitValidation(t *testing.T) {
	q := NewQueue(newGateProcessor(), testOptions())
	end := 10.0
	tests := []struct {
		name  string
		owner string
		spec  JobSpec
	}{
		{"empty owner", " ", JobSpec{SourceURL: "https://a.example/1"}},
		{"empty url", "alice", JobSpec{}},
		{"bad scheme", "alice", JobSpec{SourceURL: "ftp://a.example/1"}},
		{"no host", "alice", JobSpec{SourceURL: "https:///path"}},
		{"bad thumbnail", "alice", JobSpec{SourceURL: "https://a.example/1", ThumbnailURL: "file:///etc/passwd"}},
		{"unsorted splits", "alice", JobSpec{
			SourceURL: "https://a.example/1",
			Splits:    []timestamps.Span{{Start: 20, Title: "B"}, {Start: 0, Title: "A"}},
		}},
		{"inverted split", "alice", JobSpec{
			SourceURL: "https://a.example/1",
			Splits:    []timestamps.Span{{Start: 20, End: &end, Title: "A"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Submit(tt.owner, tt.spec)
			if apperrors.GetErrorType(err) != apperrors.ErrTypeValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	id, err := q.Submit("alice", JobSpec{SourceURL: " https://a.example/1 "})
	if err != nil {
		t.Fatalf("valid submit failed: %v", err)
	}
	j, _ := q.GetJob(id)
	if j.Status != StatusPending || j.SourceURL != "https://a.example/1" {
		t.Errorf("unexpected job %+v", j)
	}
	if q.PendingCount() != 1 {
		t.Errorf("expected 1 pending job, got %d", q.PendingCount())
	}
}
