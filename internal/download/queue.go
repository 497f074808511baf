package download

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunevault/tunevault-go/internal/config"
	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/monitoring"
	"github.com/tunevault/tunevault-go/internal/store"
)

// ErrQueueStopped is returned by Submit after Stop
var ErrQueueStopped = errors.New("download queue is stopped")

const progressStep = 5.0

// Processor does the actual work of a job. It must honour ctx
// cancellation and may call report from its own goroutine.
type Processor interface {
	Process(ctx context.Context, job Job, report func(Progress)) (Outcome, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, job Job, report func(Progress)) (Outcome, error)

// Process calls f
func (f ProcessorFunc) Process(ctx context.Context, job Job, report func(Progress)) (Outcome, error) {
	return f(ctx, job, report)
}

// HistoryRecorder persists terminal job outcomes
type HistoryRecorder interface {
	Record(ctx context.Context, r *store.JobRecord) error
}

// Options configures a Queue
type Options struct {
	Debounce         time.Duration
	CompletedGrace   time.Duration
	FailedGrace      time.Duration
	MaxActiveOwners  int
	ProgressInterval time.Duration
	MaxErrorLength   int

	History  HistoryRecorder
	Notifier *Notifier
	Logger   *zap.Logger
}

// OptionsFromConfig maps the queue config section onto Options
func OptionsFromConfig(c config.QueueConfig) Options {
	return Options{
		Debounce:         c.Debounce(),
		CompletedGrace:   c.CompletedGrace(),
		FailedGrace:      c.FailedGrace(),
		MaxActiveOwners:  c.MaxActiveOwners,
		ProgressInterval: c.ProgressInterval(),
		MaxErrorLength:   c.MaxErrorLength,
	}
}

// ownerQueue is one owner's FIFO. Terminal jobs stay in jobs until
// their grace period expires.
type ownerQueue struct {
	id string

	mu       sync.Mutex
	jobs     []*Job
	busy     bool
	current  string
	cancel   context.CancelFunc
	hasSlot  bool
	debounce *time.Timer
	gc       map[string]*time.Timer
}

func (o *ownerQueue) find(jobID string) *Job {
	for _, j := range o.jobs {
		if j.ID == jobID {
			return j
		}
	}
	return nil
}

func (o *ownerQueue) nextPending() *Job {
	for _, j := range o.jobs {
		if j.Status == StatusPending {
			return j
		}
	}
	return nil
}

func (o *ownerQueue) remove(jobID string) {
	for i, j := range o.jobs {
		if j.ID == jobID {
			o.jobs = append(o.jobs[:i], o.jobs[i+1:]...)
			break
		}
	}
	if t, ok := o.gc[jobID]; ok {
		t.Stop()
		delete(o.gc, jobID)
	}
}

// Queue runs acquisition jobs: one at a time per owner, owners in
// parallel. Lock order is Queue.mu before ownerQueue.mu.
type Queue struct {
	processor Processor
	opts      Options
	notifier  *Notifier
	logger    *zap.Logger

	mu      sync.Mutex
	owners  map[string]*ownerQueue
	index   map[string]string
	slots   chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	wg sync.WaitGroup
}

// NewQueue creates a queue. Jobs submitted before Start wait until it
// is called.
func NewQueue(processor Processor, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = NewNotifier()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 250 * time.Millisecond
	}
	if opts.MaxErrorLength <= 0 {
		opts.MaxErrorLength = 500
	}

	q := &Queue{
		processor: processor,
		opts:      opts,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		owners:    make(map[string]*ownerQueue),
		index:     make(map[string]string),
	}
	if opts.MaxActiveOwners > 0 {
		q.slots = make(chan struct{}, opts.MaxActiveOwners)
	}
	return q
}

// Notifier returns the queue's event notifier
func (q *Queue) Notifier() *Notifier {
	return q.notifier
}

// Subscribe registers an observer for queue events
func (q *Queue) Subscribe(buffer int) *Subscription {
	return q.notifier.Subscribe(buffer)
}

// Start begins processing. Cancelling ctx has the same effect as Stop
// minus the wait.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.started = true
	owners := make([]*ownerQueue, 0, len(q.owners))
	for _, oq := range q.owners {
		owners = append(owners, oq)
	}
	q.mu.Unlock()

	q.logger.Info("Download queue started",
		zap.Int("max_active_owners", q.opts.MaxActiveOwners),
		zap.Duration("debounce", q.opts.Debounce))

	for _, oq := range owners {
		q.trigger(oq)
	}
}

// Stop cancels in-flight jobs and waits for their goroutines to return
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	if q.cancel != nil {
		q.cancel()
	}
	for _, oq := range q.owners {
		oq.mu.Lock()
		if oq.debounce != nil {
			oq.debounce.Stop()
			oq.debounce = nil
		}
		for id, t := range oq.gc {
			t.Stop()
			delete(oq.gc, id)
		}
		oq.mu.Unlock()
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("Download queue stopped")
}

// Submit validates spec and appends a pending job to the owner's FIFO
func (q *Queue) Submit(ownerID string, spec JobSpec) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", apperrors.NewValidationError("owner ID is required")
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	job := &Job{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		SourceURL:    strings.TrimSpace(spec.SourceURL),
		ThumbnailURL: spec.ThumbnailURL,
		PlaylistID:   spec.PlaylistID,
		PlaylistName: spec.PlaylistName,
		Splits:       spec.Splits,
		Status:       StatusPending,
		Message:      "Queued",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrQueueStopped
	}
	oq, ok := q.owners[ownerID]
	if !ok {
		oq = &ownerQueue{id: ownerID, gc: make(map[string]*time.Timer)}
		q.owners[ownerID] = oq
	}
	q.index[job.ID] = ownerID
	oq.mu.Lock()
	oq.jobs = append(oq.jobs, job)
	snap := job.snapshot()
	oq.mu.Unlock()
	q.mu.Unlock()

	q.logger.Info("Job queued",
		zap.String("owner_id", ownerID),
		zap.String("job_id", job.ID),
		zap.String("url", job.SourceURL))

	q.notifier.Publish(EventJobUpdated, snap)
	q.updatePending()
	q.trigger(oq)
	return job.ID, nil
}

// Pause holds a pending job in place
func (q *Queue) Pause(jobID string) error {
	oq, job, unlock, err := q.lockJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusPending {
		unlock()
		return fmt.Errorf("%w: cannot pause %s job", apperrors.ErrInvalidTransition, job.Status)
	}
	job.Status = StatusPaused
	job.Message = "Paused"
	job.UpdatedAt = time.Now()
	snap := job.snapshot()
	unlock()

	q.logger.Debug("Job paused", zap.String("owner_id", oq.id), zap.String("job_id", jobID))
	q.notifier.Publish(EventJobUpdated, snap)
	q.updatePending()
	return nil
}

// Resume returns a paused job to pending and wakes its owner
func (q *Queue) Resume(jobID string) error {
	oq, job, unlock, err := q.lockJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusPaused {
		unlock()
		return fmt.Errorf("%w: cannot resume %s job", apperrors.ErrInvalidTransition, job.Status)
	}
	job.Status = StatusPending
	job.Message = "Queued"
	job.UpdatedAt = time.Now()
	snap := job.snapshot()
	unlock()

	q.logger.Debug("Job resumed", zap.String("owner_id", oq.id), zap.String("job_id", jobID))
	q.notifier.Publish(EventJobUpdated, snap)
	q.updatePending()
	q.trigger(oq)
	return nil
}

// Cancel removes a job immediately. A running job has its context
// cancelled; the queue moves on without waiting for it to exit.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	ownerID, ok := q.index[jobID]
	if !ok {
		q.mu.Unlock()
		return apperrors.ErrJobNotFound
	}
	oq := q.owners[ownerID]
	oq.mu.Lock()
	job := oq.find(jobID)
	if job == nil {
		oq.mu.Unlock()
		q.mu.Unlock()
		return apperrors.ErrJobNotFound
	}
	if job.Status == StatusCompleted {
		oq.mu.Unlock()
		q.mu.Unlock()
		return fmt.Errorf("%w: job already completed", apperrors.ErrInvalidTransition)
	}

	running := oq.current == jobID
	if running {
		oq.cancel()
		oq.cancel = nil
		oq.current = ""
		oq.busy = false
		q.releaseSlot(oq)
	}
	oq.remove(jobID)
	delete(q.index, jobID)
	snap := job.snapshot()
	oq.mu.Unlock()
	q.mu.Unlock()

	q.logger.Info("Job cancelled",
		zap.String("owner_id", ownerID),
		zap.String("job_id", jobID),
		zap.Bool("was_running", running))

	if running {
		monitoring.RecordJobFinished("cancelled", "cancelled", time.Since(snap.startedAt))
		q.scheduleNext(oq)
	}
	q.notifier.Publish(EventJobRemoved, snap)
	q.updatePending()
	return nil
}

// GetJob returns a snapshot of one job
func (q *Queue) GetJob(jobID string) (Job, bool) {
	_, job, unlock, err := q.lockJob(jobID)
	if err != nil {
		return Job{}, false
	}
	defer unlock()
	return job.snapshot(), true
}

// GetJobs returns snapshots of an owner's jobs in FIFO order
func (q *Queue) GetJobs(ownerID string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	oq, ok := q.owners[ownerID]
	if !ok {
		return []Job{}
	}
	oq.mu.Lock()
	defer oq.mu.Unlock()
	out := make([]Job, 0, len(oq.jobs))
	for _, j := range oq.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// PendingCount returns the number of pending jobs across owners
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, oq := range q.owners {
		oq.mu.Lock()
		for _, j := range oq.jobs {
			if j.Status == StatusPending {
				n++
			}
		}
		oq.mu.Unlock()
	}
	return n
}

// ActiveCount returns the number of owners with a job downloading
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, oq := range q.owners {
		oq.mu.Lock()
		if oq.current != "" {
			n++
		}
		oq.mu.Unlock()
	}
	return n
}

// lockJob returns the job with its owner lock held
func (q *Queue) lockJob(jobID string) (*ownerQueue, *Job, func(), error) {
	q.mu.Lock()
	ownerID, ok := q.index[jobID]
	if !ok {
		q.mu.Unlock()
		return nil, nil, nil, apperrors.ErrJobNotFound
	}
	oq := q.owners[ownerID]
	oq.mu.Lock()
	q.mu.Unlock()

	job := oq.find(jobID)
	if job == nil {
		oq.mu.Unlock()
		return nil, nil, nil, apperrors.ErrJobNotFound
	}
	return oq, job, oq.mu.Unlock, nil
}

// trigger starts the owner's worker if it is idle and has work
func (q *Queue) trigger(oq *ownerQueue) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started || q.stopped {
		return
	}
	oq.mu.Lock()
	defer oq.mu.Unlock()
	if oq.busy || oq.debounce != nil || oq.nextPending() == nil {
		return
	}
	oq.busy = true
	q.wg.Add(1)
	go q.run(oq)
}

func (q *Queue) run(oq *ownerQueue) {
	defer q.wg.Done()

	if q.slots != nil {
		select {
		case q.slots <- struct{}{}:
		case <-q.ctx.Done():
			oq.mu.Lock()
			oq.busy = false
			oq.mu.Unlock()
			return
		}
	}

	oq.mu.Lock()
	job := oq.nextPending()
	if job == nil || q.ctx.Err() != nil {
		oq.busy = false
		oq.mu.Unlock()
		if q.slots != nil {
			<-q.slots
		}
		return
	}
	ctx, cancel := context.WithCancel(q.ctx)
	now := time.Now()
	job.Status = StatusDownloading
	job.Message = "Starting"
	job.startedAt = now
	job.UpdatedAt = now
	oq.current = job.ID
	oq.cancel = cancel
	oq.hasSlot = q.slots != nil
	snap := job.snapshot()
	oq.mu.Unlock()

	logger := monitoring.LoggerForJob(q.logger, oq.id, snap.ID)
	logger.Info("Job started", zap.String("url", snap.SourceURL))
	monitoring.RecordJobStart()
	q.notifier.Publish(EventJobUpdated, snap)
	q.updatePending()

	outcome, err := q.process(ctx, oq, snap)
	cancel()
	q.finish(oq, snap.ID, outcome, err, logger)
}

func (q *Queue) process(ctx context.Context, oq *ownerQueue, job Job) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return q.processor.Process(ctx, job, func(p Progress) {
		q.progress(oq, job.ID, p)
	})
}

// progress applies a processor report, emitting at most one event per
// interval unless the percentage moved far enough or the message changed
func (q *Queue) progress(oq *ownerQueue, jobID string, p Progress) {
	oq.mu.Lock()
	job := oq.find(jobID)
	if job == nil || job.Status != StatusDownloading {
		oq.mu.Unlock()
		return
	}
	now := time.Now()
	job.Progress = math.Max(0, math.Min(100, p.Percent))
	job.Speed = p.Speed
	job.ETA = p.ETA
	if p.Message != "" {
		job.Message = p.Message
	}
	job.UpdatedAt = now

	emit := job.lastEmit.IsZero() ||
		now.Sub(job.lastEmit) >= q.opts.ProgressInterval ||
		math.Abs(job.Progress-job.lastEmitPct) >= progressStep ||
		job.Message != job.lastEmitText
	var snap Job
	if emit {
		job.lastEmit = now
		job.lastEmitPct = job.Progress
		job.lastEmitText = job.Message
		snap = job.snapshot()
	}
	oq.mu.Unlock()

	if emit {
		q.notifier.Publish(EventJobUpdated, snap)
	}
}

func (q *Queue) finish(oq *ownerQueue, jobID string, outcome Outcome, err error, logger *zap.Logger) {
	oq.mu.Lock()
	job := oq.find(jobID)
	if job == nil || oq.current != jobID {
		// cancelled while running; Cancel already did the bookkeeping
		oq.mu.Unlock()
		logger.Debug("Cancelled job returned", zap.Error(err))
		return
	}
	now := time.Now()
	if outcome.Title != "" {
		job.Title = outcome.Title
	}
	if err != nil {
		job.Status = StatusFailed
		job.Error = apperrors.Truncate(err.Error(), q.opts.MaxErrorLength)
		job.Message = "Failed"
	} else {
		job.Status = StatusCompleted
		job.Progress = 100
		job.Message = outcome.Message
		if job.Message == "" {
			job.Message = "Completed"
		}
	}
	job.Speed = 0
	job.ETA = 0
	job.UpdatedAt = now
	snap := job.snapshot()
	oq.mu.Unlock()

	duration := now.Sub(snap.startedAt)
	kind := "single"
	if len(snap.Splits) > 0 || outcome.TracksAdded+outcome.TracksSkipped > 1 {
		kind = "album"
	}
	monitoring.RecordJobFinished(string(snap.Status), kind, duration)

	if err != nil {
		monitoring.RecordError(string(apperrors.GetErrorType(err)))
		if apperrors.IsFatalToJob(err) {
			logger.Warn("Job failed", zap.Error(err), zap.Duration("duration", duration))
		} else {
			logger.Error("Job failed with unclassified error", zap.Error(err), zap.Duration("duration", duration))
		}
	} else {
		logger.Info("Job completed",
			zap.String("title", snap.Title),
			zap.Int("tracks_added", outcome.TracksAdded),
			zap.Int("tracks_skipped", outcome.TracksSkipped),
			zap.Duration("duration", duration))
	}

	q.notifier.Publish(EventJobUpdated, snap)
	q.notifier.Publish(EventJobReady, snap)
	q.recordHistory(snap, outcome, logger)
	q.jobFinished(oq.id, jobID)
}

func (q *Queue) recordHistory(job Job, outcome Outcome, logger *zap.Logger) {
	if q.opts.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := &store.JobRecord{
		ID:            job.ID,
		OwnerID:       job.OwnerID,
		SourceURL:     job.SourceURL,
		Title:         job.Title,
		Status:        string(job.Status),
		ErrorMessage:  job.Error,
		TracksAdded:   outcome.TracksAdded,
		TracksSkipped: outcome.TracksSkipped,
		CreatedAt:     job.CreatedAt,
		FinishedAt:    job.UpdatedAt,
	}
	if err := q.opts.History.Record(ctx, rec); err != nil {
		logger.Warn("Failed to record job history", zap.Error(err))
	}
}

// jobFinished frees the owner, schedules GC of the finished job and
// schedules the next eligible job after the debounce. Stale job IDs are
// ignored.
func (q *Queue) jobFinished(ownerID, jobID string) {
	q.mu.Lock()
	oq, ok := q.owners[ownerID]
	stopped := q.stopped
	q.mu.Unlock()
	if !ok {
		return
	}

	oq.mu.Lock()
	if oq.current != jobID {
		oq.mu.Unlock()
		return
	}
	oq.current = ""
	oq.cancel = nil
	oq.busy = false
	q.releaseSlot(oq)

	if job := oq.find(jobID); job != nil && !stopped {
		grace := q.opts.CompletedGrace
		if job.Status == StatusFailed {
			grace = q.opts.FailedGrace
		}
		oq.gc[jobID] = time.AfterFunc(grace, func() { q.collect(ownerID, jobID) })
	}
	oq.mu.Unlock()

	if !stopped {
		q.scheduleNext(oq)
	}
}

// releaseSlot must be called with oq.mu held
func (q *Queue) releaseSlot(oq *ownerQueue) {
	if oq.hasSlot {
		oq.hasSlot = false
		<-q.slots
	}
}

func (q *Queue) scheduleNext(oq *ownerQueue) {
	oq.mu.Lock()
	if oq.debounce != nil {
		oq.debounce.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(q.opts.Debounce, func() {
		oq.mu.Lock()
		if oq.debounce != t {
			oq.mu.Unlock()
			return
		}
		oq.debounce = nil
		oq.mu.Unlock()
		q.trigger(oq)
	})
	oq.debounce = t
	oq.mu.Unlock()
}

// collect drops a terminal job from the in-memory table
func (q *Queue) collect(ownerID, jobID string) {
	q.mu.Lock()
	oq, ok := q.owners[ownerID]
	if !ok {
		q.mu.Unlock()
		return
	}
	oq.mu.Lock()
	job := oq.find(jobID)
	if job == nil || !job.Status.IsTerminal() {
		oq.mu.Unlock()
		q.mu.Unlock()
		return
	}
	snap := job.snapshot()
	oq.remove(jobID)
	delete(q.index, jobID)
	oq.mu.Unlock()
	q.mu.Unlock()

	q.notifier.Publish(EventJobRemoved, snap)
}

func (q *Queue) updatePending() {
	monitoring.UpdatePendingJobs(q.PendingCount())
}
