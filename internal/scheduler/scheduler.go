package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/platoba/OmniMessage-Gateway/internal/pkg/logs"
)

const defaultPollInterval = 5 * time.Second

// SendFunc executes one due entry's message data and returns the dispatch
// result for audit.
type SendFunc func(ctx context.Context, messageData map[string]any) (map[string]any, error)

// Mirror optionally persists entries for durability across restarts.
type Mirror interface {
	SaveScheduled(ctx context.Context, scheduleID string, messageData map[string]any, scheduledAt time.Time) error
	MarkScheduledDone(ctx context.Context, scheduleID, result string) error
}

// Callback is invoked after each successful execution.
type Callback func(*Entry)

// Scheduler owns deferred and recurring dispatches. A background worker
// polls for due entries and executes them concurrently through SendFunc.
type Scheduler struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	callbacks []Callback

	sendFn SendFunc
	mirror Mirror
	poll   time.Duration
	now    func() time.Time

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(sendFn SendFunc, poll time.Duration) *Scheduler {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Scheduler{
		entries: make(map[string]*Entry),
		sendFn:  sendFn,
		poll:    poll,
		now:     time.Now,
	}
}

// SetMirror attaches a persistence mirror. Mirroring is best-effort.
func (s *Scheduler) SetMirror(m Mirror) { s.mirror = m }

// OnExecute registers a callback run after each successful execution.
// Callback panics are caught and logged.
func (s *Scheduler) OnExecute(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

func (s *Scheduler) add(e *Entry) string {
	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.SaveScheduled(context.Background(), e.ID, e.MessageData, e.ScheduledAt); err != nil {
			logs.Warn("[scheduler] mirror entry %s: %v", e.ID, err)
		}
	}
	return e.ID
}

func entryID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// ScheduleAt fires once at the given time.
func (s *Scheduler) ScheduleAt(messageData map[string]any, at time.Time, id string) string {
	e := &Entry{
		ID:          entryID(id),
		MessageData: messageData,
		ScheduledAt: at,
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
	}
	logs.Info("[scheduler] scheduled %s at %s", e.ID, at.UTC().Format(time.RFC3339))
	return s.add(e)
}

// ScheduleDelay fires once after the given delay.
func (s *Scheduler) ScheduleDelay(messageData map[string]any, delay time.Duration, id string) string {
	return s.ScheduleAt(messageData, s.now().Add(delay), id)
}

// ScheduleRecurring fires every interval starting at startAt (nil = now).
// maxRuns of 0 means unbounded.
func (s *Scheduler) ScheduleRecurring(messageData map[string]any, interval time.Duration, startAt *time.Time, maxRuns int, id string) string {
	at := s.now()
	if startAt != nil {
		at = *startAt
	}
	e := &Entry{
		ID:          entryID(id),
		MessageData: messageData,
		ScheduledAt: at,
		Recurring:   true,
		Interval:    interval,
		MaxRuns:     maxRuns,
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
	}
	logs.Info("[scheduler] scheduled recurring %s every %s", e.ID, interval)
	return s.add(e)
}

// ScheduleCron fires on a standard five-field cron expression.
func (s *Scheduler) ScheduleCron(messageData map[string]any, spec string, maxRuns int, id string) (string, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return "", fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	e := &Entry{
		ID:          entryID(id),
		MessageData: messageData,
		ScheduledAt: sched.Next(s.now()),
		Recurring:   true,
		CronSpec:    spec,
		MaxRuns:     maxRuns,
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
		cronSched:   sched,
	}
	logs.Info("[scheduler] scheduled cron %s (%s)", e.ID, spec)
	return s.add(e), nil
}

// Cancel marks an entry cancelled; it will not fire again.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.Status = StatusCancelled
	return true
}

// Get returns one entry's audit map, or nil.
func (s *Scheduler) Get(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	return e.ToMap()
}

// List returns entries sorted by scheduled time, optionally filtered by
// status.
func (s *Scheduler) List(status string) []map[string]any {
	s.mu.Lock()
	selected := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if status == "" || e.Status == status {
			selected = append(selected, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].ScheduledAt.Before(selected[j].ScheduledAt)
	})
	out := make([]map[string]any, len(selected))
	for i, e := range selected {
		out[i] = e.ToMap()
	}
	return out
}

func (s *Scheduler) due() []*Entry {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for _, e := range s.entries {
		if e.IsDue(now) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Scheduler) execute(ctx context.Context, e *Entry) {
	var resultText string
	var failed bool

	if s.sendFn == nil {
		resultText = "no_send_fn"
	} else if result, err := s.sendFn(ctx, e.MessageData); err != nil {
		resultText = fmt.Sprintf("error: %v", err)
		failed = true
	} else if encoded, err := sonic.MarshalString(result); err == nil {
		resultText = encoded
	} else {
		resultText = fmt.Sprint(result)
	}

	s.mu.Lock()
	e.LastResult = resultText
	e.Advance(s.now())
	runCount := e.RunCount
	completed := e.Status == StatusCompleted
	callbacks := s.callbacks
	s.mu.Unlock()

	if failed {
		logs.CtxError(ctx, "[scheduler] entry %s failed: %s", e.ID, resultText)
	} else {
		logs.CtxInfo(ctx, "[scheduler] executed %s (run #%d)", e.ID, runCount)
		for _, cb := range callbacks {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logs.CtxError(ctx, "[scheduler] callback error: %v", r)
					}
				}()
				cb(e)
			}()
		}
	}

	if s.mirror != nil && completed {
		if err := s.mirror.MarkScheduledDone(ctx, e.ID, resultText); err != nil {
			logs.CtxWarn(ctx, "[scheduler] mirror completion %s: %v", e.ID, err)
		}
	}
}

// ProcessDue executes every due entry concurrently and returns how many
// fired. Entry errors never halt processing.
func (s *Scheduler) ProcessDue(ctx context.Context) int {
	due := s.due()
	if len(due) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, e := range due {
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			s.execute(ctx, e)
		}(e)
	}
	wg.Wait()
	return len(due)
}

// Start launches the polling worker. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(ctx)
	}()
	logs.CtxInfo(ctx, "[scheduler] started (poll=%s)", s.poll)
}

func (s *Scheduler) worker(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ProcessDue(ctx); n > 0 {
				logs.CtxInfo(ctx, "[scheduler] processed %d scheduled messages", n)
			}
		}
	}
}

// Stop cancels the worker and waits for its exit. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	logs.Info("[scheduler] stopped")
}

// Stats summarizes entry counts by status.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStatus := make(map[string]int)
	for _, e := range s.entries {
		byStatus[e.Status]++
	}
	return map[string]any{
		"total":         len(s.entries),
		"by_status":     byStatus,
		"running":       s.running,
		"poll_interval": s.poll.Seconds(),
	}
}
