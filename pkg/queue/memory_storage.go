package queue

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Store in process memory for tests and local development.
// All times come from the caller, so tests can drive it with a fake clock.
type MemoryStorage struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]*Task
	dlq       map[uuid.UUID]*DeadLetterEntry
	chains    map[string]*ChainDefinition
	schedules map[string]*ScheduleDefinition
	workflows map[uuid.UUID]*Workflow

	// Indexes for efficient queries
	byQueue     map[string][]uuid.UUID
	dlqByOrigin map[uuid.UUID]uuid.UUID
	closed      bool
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks:       make(map[uuid.UUID]*Task),
		dlq:         make(map[uuid.UUID]*DeadLetterEntry),
		chains:      make(map[string]*ChainDefinition),
		schedules:   make(map[string]*ScheduleDefinition),
		workflows:   make(map[uuid.UUID]*Workflow),
		byQueue:     make(map[string][]uuid.UUID),
		dlqByOrigin: make(map[uuid.UUID]uuid.UUID),
	}
}

// Close marks the storage unavailable. Later calls to Ping fail.
func (ms *MemoryStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	return nil
}

func (ms *MemoryStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrTaskNotFound
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.insertTaskLocked(task)
}

func (ms *MemoryStorage) insertTaskLocked(task *Task) error {
	if _, exists := ms.tasks[task.ID]; exists {
		return ErrTaskExists
	}

	ms.tasks[task.ID] = cloneTask(task)
	ms.byQueue[task.Queue] = append(ms.byQueue[task.Queue], task.ID)
	return nil
}

func (ms *MemoryStorage) ClaimTask(ctx context.Context, queue, workerID string, now, staleBefore time.Time) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var best *Task
	for _, id := range ms.byQueue[queue] {
		task, ok := ms.tasks[id]
		if !ok {
			continue
		}

		eligible := (task.Status == TaskStatusPending && !task.AvailableAt.After(now)) ||
			task.Stale(staleBefore)
		if !eligible || task.Name == DeadLetterTaskName || task.Blocked(ms.statusLocked) {
			continue
		}

		if best == nil || claimsBefore(task, best) {
			best = task
		}
	}

	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	best.Status = TaskStatusClaimed
	best.ClaimedBy = workerID
	best.ClaimedAt = timePtr(now)
	best.LastHeartbeatAt = timePtr(now)

	return cloneTask(best), nil
}

// statusLocked looks up a task status. The caller must hold ms.mu.
func (ms *MemoryStorage) statusLocked(id uuid.UUID) (TaskStatus, bool) {
	task, ok := ms.tasks[id]
	if !ok {
		return "", false
	}
	return task.Status, true
}

// claimsBefore orders by priority desc, then created_at asc.
func claimsBefore(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (ms *MemoryStorage) HeartbeatTask(ctx context.Context, taskID uuid.UUID, workerID string, now, staleBefore time.Time) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok || task.Status != TaskStatusClaimed || task.ClaimedBy != workerID || task.Stale(staleBefore) {
		return false, nil
	}

	task.LastHeartbeatAt = timePtr(now)
	return true, nil
}

func (ms *MemoryStorage) CompleteTask(ctx context.Context, taskID uuid.UUID, workerID string, result json.RawMessage, now time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok || task.Status != TaskStatusClaimed || task.ClaimedBy != workerID {
		return ErrClaimLost
	}

	task.Status = TaskStatusCompleted
	task.Result = slices.Clone(result)
	task.CompletedAt = timePtr(now)
	return nil
}

func (ms *MemoryStorage) FailTask(ctx context.Context, params FailParams) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[params.TaskID]
	if !ok || task.Status != TaskStatusClaimed || task.ClaimedBy != params.WorkerID {
		return nil, ErrClaimLost
	}

	ApplyFailure(task, params)
	return cloneTask(task), nil
}

func (ms *MemoryStorage) CancelTask(ctx context.Context, taskID uuid.UUID, now time.Time) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return false, ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return false, nil
	}

	task.Status = TaskStatusCancelled
	task.Error = CancelledByUser
	task.CompletedAt = timePtr(now)
	return true, nil
}

func (ms *MemoryStorage) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (ms *MemoryStorage) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []Task
	for _, task := range ms.tasks {
		if filter.Queue != "" && task.Queue != filter.Queue {
			continue
		}
		if filter.Name != "" && task.Name != filter.Name {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, task.Status) {
			continue
		}
		if filter.WorkflowID != nil && (task.WorkflowID == nil || *task.WorkflowID != *filter.WorkflowID) {
			continue
		}
		out = append(out, *cloneTask(task))
	}

	slices.SortFunc(out, func(a, b Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return paginate(out, filter.Limit, filter.Offset), nil
}

func (ms *MemoryStorage) CountTasks(ctx context.Context, queue string) (map[TaskStatus]int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	counts := make(map[TaskStatus]int)
	for _, task := range ms.tasks {
		if queue != "" && task.Queue != queue {
			continue
		}
		counts[task.Status]++
	}
	return counts, nil
}

func (ms *MemoryStorage) PruneTasks(ctx context.Context, params PruneParams) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var deleted int64
	for id, task := range ms.tasks {
		if params.Queue != "" && task.Queue != params.Queue {
			continue
		}
		if !slices.Contains(params.Statuses, task.Status) {
			continue
		}
		if task.CompletedAt == nil || !task.CompletedAt.Before(params.OlderThan) {
			continue
		}

		delete(ms.tasks, id)
		ms.byQueue[task.Queue] = slices.DeleteFunc(ms.byQueue[task.Queue], func(v uuid.UUID) bool { return v == id })
		deleted++
	}
	return deleted, nil
}

func (ms *MemoryStorage) CreateDeadLetter(ctx context.Context, entry *DeadLetterEntry, marker *Task) (*DeadLetterEntry, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if id, ok := ms.dlqByOrigin[entry.OriginalTaskID]; ok {
		return cloneDeadLetter(ms.dlq[id]), false, nil
	}

	if marker != nil {
		if err := ms.insertTaskLocked(marker); err != nil {
			return nil, false, err
		}
	}

	stored := cloneDeadLetter(entry)
	ms.dlq[stored.ID] = stored
	ms.dlqByOrigin[stored.OriginalTaskID] = stored.ID
	return cloneDeadLetter(stored), true, nil
}

func (ms *MemoryStorage) GetDeadLetter(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entry, ok := ms.dlq[id]
	if !ok {
		return nil, ErrDeadLetterNotFound
	}
	return cloneDeadLetter(entry), nil
}

func (ms *MemoryStorage) ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]DeadLetterEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []DeadLetterEntry
	for _, entry := range ms.dlq {
		if filter.Queue != "" && entry.OriginalQueue != filter.Queue {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, entry.Status) {
			continue
		}
		out = append(out, *cloneDeadLetter(entry))
	}

	slices.SortFunc(out, func(a, b DeadLetterEntry) int {
		if c := a.DeadLetteredAt.Compare(b.DeadLetteredAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return paginate(out, filter.Limit, filter.Offset), nil
}

func (ms *MemoryStorage) RetryDeadLetter(ctx context.Context, id uuid.UUID, task *Task, from []DeadLetterStatus, now time.Time) (*DeadLetterEntry, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.dlq[id]
	if !ok {
		return nil, ErrDeadLetterNotFound
	}
	if !slices.Contains(from, entry.Status) {
		return nil, ErrInvalidDeadLetterTransition
	}
	if err := ms.insertTaskLocked(task); err != nil {
		return nil, err
	}

	entry.Status = DeadLetterRetrying
	entry.RetriedTaskID = &task.ID
	entry.UpdatedAt = now
	ms.closeMarkerLocked(entry.MarkerTaskID, now)
	return cloneDeadLetter(entry), nil
}

func (ms *MemoryStorage) UpdateDeadLetterStatus(ctx context.Context, id uuid.UUID, from []DeadLetterStatus, to DeadLetterStatus, note string, now time.Time) (*DeadLetterEntry, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.dlq[id]
	if !ok {
		return nil, ErrDeadLetterNotFound
	}
	if !slices.Contains(from, entry.Status) {
		return nil, ErrInvalidDeadLetterTransition
	}

	entry.Status = to
	if note != "" {
		entry.Note = note
	}
	entry.UpdatedAt = now
	ms.closeMarkerLocked(entry.MarkerTaskID, now)
	return cloneDeadLetter(entry), nil
}

func (ms *MemoryStorage) DeleteDeadLetter(ctx context.Context, id uuid.UUID, now time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.dlq[id]
	if !ok {
		return ErrDeadLetterNotFound
	}
	ms.closeMarkerLocked(entry.MarkerTaskID, now)
	delete(ms.dlqByOrigin, entry.OriginalTaskID)
	delete(ms.dlq, id)
	return nil
}

// closeMarkerLocked cancels a still-open marker task. The caller must hold ms.mu.
func (ms *MemoryStorage) closeMarkerLocked(id uuid.UUID, now time.Time) {
	marker, ok := ms.tasks[id]
	if !ok || marker.Status.Terminal() {
		return
	}
	marker.Status = TaskStatusCancelled
	marker.Error = DeadLetterSettled
	marker.CompletedAt = timePtr(now)
}

func (ms *MemoryStorage) CountDeadLetters(ctx context.Context) (map[DeadLetterStatus]int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	counts := make(map[DeadLetterStatus]int)
	for _, entry := range ms.dlq {
		counts[entry.Status]++
	}
	return counts, nil
}

func (ms *MemoryStorage) Ping(ctx context.Context) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return ErrStoreUnavailable
	}
	return ctx.Err()
}

func (ms *MemoryStorage) QueueDepth(ctx context.Context, queue string) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	n := 0
	for _, task := range ms.tasksIn(queue) {
		if task.Name == DeadLetterTaskName {
			continue
		}
		if task.Status == TaskStatusPending || task.Status == TaskStatusClaimed {
			n++
		}
	}
	return n, nil
}

func (ms *MemoryStorage) OldestPending(ctx context.Context, queue string) (*time.Time, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var oldest *time.Time
	for _, task := range ms.tasksIn(queue) {
		if task.Status != TaskStatusPending || task.Name == DeadLetterTaskName || task.Blocked(ms.statusLocked) {
			continue
		}
		if oldest == nil || task.CreatedAt.Before(*oldest) {
			oldest = timePtr(task.CreatedAt)
		}
	}
	return oldest, nil
}

func (ms *MemoryStorage) LastCompletedAt(ctx context.Context, queue string) (*time.Time, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var last *time.Time
	for _, task := range ms.tasksIn(queue) {
		if task.Status != TaskStatusCompleted || task.CompletedAt == nil {
			continue
		}
		if last == nil || task.CompletedAt.After(*last) {
			last = timePtr(*task.CompletedAt)
		}
	}
	return last, nil
}

func (ms *MemoryStorage) WindowCounts(ctx context.Context, queue string, since time.Time) (WindowCounts, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var counts WindowCounts
	for _, task := range ms.tasksIn(queue) {
		if task.Status == TaskStatusCompleted && task.CompletedAt != nil && !task.CompletedAt.Before(since) {
			counts.Completed++
		}
		if task.LastFailedAt != nil && !task.LastFailedAt.Before(since) {
			counts.Failed++
		}
	}
	return counts, nil
}

func (ms *MemoryStorage) LatencySamples(ctx context.Context, queue string, since time.Time, limit int) ([]LatencySample, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var done []*Task
	for _, task := range ms.tasksIn(queue) {
		if task.Status != TaskStatusCompleted || task.CompletedAt == nil || task.ClaimedAt == nil {
			continue
		}
		if task.CompletedAt.Before(since) {
			continue
		}
		done = append(done, task)
	}

	slices.SortFunc(done, func(a, b *Task) int {
		return b.CompletedAt.Compare(*a.CompletedAt)
	})
	if limit > 0 && len(done) > limit {
		done = done[:limit]
	}

	samples := make([]LatencySample, 0, len(done))
	for _, task := range done {
		samples = append(samples, LatencySample{
			Wait: task.ClaimedAt.Sub(task.CreatedAt),
			Exec: task.CompletedAt.Sub(*task.ClaimedAt),
		})
	}
	return samples, nil
}

func (ms *MemoryStorage) WorkerActivity(ctx context.Context, queue string, since, staleBefore time.Time) ([]WorkerActivity, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	byWorker := make(map[string]*WorkerActivity)
	for _, task := range ms.tasksIn(queue) {
		if task.ClaimedBy == "" || task.ClaimedAt == nil {
			continue
		}
		seen := lastSeen(task)
		if seen.Before(since) {
			continue
		}

		act, ok := byWorker[task.ClaimedBy]
		if !ok {
			act = &WorkerActivity{
				WorkerID:  task.ClaimedBy,
				Queue:     task.Queue,
				FirstSeen: *task.ClaimedAt,
				LastSeen:  seen,
			}
			byWorker[task.ClaimedBy] = act
		}
		if task.ClaimedAt.Before(act.FirstSeen) {
			act.FirstSeen = *task.ClaimedAt
		}
		if seen.After(act.LastSeen) {
			act.LastSeen = seen
			act.Queue = task.Queue
		}

		switch task.Status {
		case TaskStatusCompleted, TaskStatusFailed:
			act.TasksProcessed++
		case TaskStatusClaimed:
			if task.Stale(staleBefore) {
				act.StaleClaims++
			} else {
				act.ActiveClaims++
			}
		}
	}

	out := make([]WorkerActivity, 0, len(byWorker))
	for _, act := range byWorker {
		out = append(out, *act)
	}
	slices.SortFunc(out, func(a, b WorkerActivity) int {
		return cmp.Compare(a.WorkerID, b.WorkerID)
	})
	return out, nil
}

// lastSeen is the latest moment a task shows its worker alive.
func lastSeen(task *Task) time.Time {
	switch {
	case task.CompletedAt != nil:
		return *task.CompletedAt
	case task.LastHeartbeatAt != nil:
		return *task.LastHeartbeatAt
	default:
		return *task.ClaimedAt
	}
}

func (ms *MemoryStorage) CountTimedOut(ctx context.Context, queue string) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	n := 0
	for _, task := range ms.tasksIn(queue) {
		if task.Status == TaskStatusFailed && strings.Contains(strings.ToLower(task.Error), "timeout") {
			n++
		}
	}
	return n, nil
}

func (ms *MemoryStorage) SaveChain(ctx context.Context, chain ChainDefinition) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if existing, ok := ms.chains[chain.Name]; ok && !existing.CreatedAt.IsZero() {
		chain.CreatedAt = existing.CreatedAt
	}
	chain.Tasks = slices.Clone(chain.Tasks)
	ms.chains[chain.Name] = &chain
	return nil
}

func (ms *MemoryStorage) GetChain(ctx context.Context, name string) (*ChainDefinition, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	chain, ok := ms.chains[name]
	if !ok {
		return nil, ErrChainNotFound
	}
	out := *chain
	out.Tasks = slices.Clone(chain.Tasks)
	return &out, nil
}

func (ms *MemoryStorage) ListChains(ctx context.Context) ([]ChainDefinition, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]ChainDefinition, 0, len(ms.chains))
	for _, chain := range ms.chains {
		c := *chain
		c.Tasks = slices.Clone(chain.Tasks)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b ChainDefinition) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (ms *MemoryStorage) DeleteChain(ctx context.Context, name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.chains[name]; !ok {
		return ErrChainNotFound
	}
	delete(ms.chains, name)
	return nil
}

func (ms *MemoryStorage) SaveSchedule(ctx context.Context, def ScheduleDefinition) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	def.Params = slices.Clone(def.Params)
	ms.schedules[def.Name] = &def
	return nil
}

func (ms *MemoryStorage) GetSchedule(ctx context.Context, name string) (*ScheduleDefinition, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	def, ok := ms.schedules[name]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return cloneSchedule(def), nil
}

func (ms *MemoryStorage) ListSchedules(ctx context.Context) ([]ScheduleDefinition, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]ScheduleDefinition, 0, len(ms.schedules))
	for _, def := range ms.schedules {
		out = append(out, *cloneSchedule(def))
	}
	slices.SortFunc(out, func(a, b ScheduleDefinition) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (ms *MemoryStorage) DeleteSchedule(ctx context.Context, name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.schedules[name]; !ok {
		return ErrScheduleNotFound
	}
	delete(ms.schedules, name)
	return nil
}

func (ms *MemoryStorage) DueSchedules(ctx context.Context, now time.Time, limit int) ([]ScheduleDefinition, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []ScheduleDefinition
	for _, def := range ms.schedules {
		if def.Enabled && !def.NextRunAt.After(now) {
			out = append(out, *cloneSchedule(def))
		}
	}
	slices.SortFunc(out, func(a, b ScheduleDefinition) int { return a.NextRunAt.Compare(b.NextRunAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (ms *MemoryStorage) FireSchedule(ctx context.Context, name string, expectedNext, next, now time.Time, task *Task) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	def, ok := ms.schedules[name]
	if !ok {
		return false, ErrScheduleNotFound
	}
	if !def.Enabled || !def.NextRunAt.Equal(expectedNext) {
		return false, nil
	}
	if err := ms.insertTaskLocked(task); err != nil {
		return false, err
	}

	def.NextRunAt = next
	def.LastRunAt = timePtr(now)
	return true, nil
}

func (ms *MemoryStorage) TriggerSchedule(ctx context.Context, name string, now time.Time, task *Task) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	def, ok := ms.schedules[name]
	if !ok {
		return ErrScheduleNotFound
	}
	if err := ms.insertTaskLocked(task); err != nil {
		return err
	}
	def.LastRunAt = timePtr(now)
	return nil
}

func (ms *MemoryStorage) CreateWorkflow(ctx context.Context, wf Workflow, tasks []*Task) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.workflows[wf.ID]; exists {
		return ErrInvalidWorkflow
	}
	for _, task := range tasks {
		if _, exists := ms.tasks[task.ID]; exists {
			return ErrTaskExists
		}
	}
	for _, task := range tasks {
		if err := ms.insertTaskLocked(task); err != nil {
			return err
		}
	}
	ms.workflows[wf.ID] = &wf
	return nil
}

func (ms *MemoryStorage) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	wf, ok := ms.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	c := *wf
	return &c, nil
}

func (ms *MemoryStorage) ListWorkflows(ctx context.Context, limit int) ([]Workflow, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]Workflow, 0, len(ms.workflows))
	for _, wf := range ms.workflows {
		out = append(out, *wf)
	}
	slices.SortFunc(out, func(a, b Workflow) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return paginate(out, limit, 0), nil
}

// Migrate is a no-op; memory storage has no schema.
func (ms *MemoryStorage) Migrate(ctx context.Context) error {
	return nil
}

func (ms *MemoryStorage) SchemaStatus(ctx context.Context) (*SchemaStatus, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	rows := map[string]int64{
		"tasks":        int64(len(ms.tasks)),
		"dead_letters": int64(len(ms.dlq)),
		"task_chains":  int64(len(ms.chains)),
		"schedules":    int64(len(ms.schedules)),
		"workflows":    int64(len(ms.workflows)),
	}

	status := &SchemaStatus{
		Backend:    "memory",
		TaskCounts: make(map[TaskStatus]int),
	}
	for _, name := range SchemaTables {
		status.Tables = append(status.Tables, TableStatus{Name: name, Exists: true, Rows: rows[name]})
	}
	for _, task := range ms.tasks {
		status.TaskCounts[task.Status]++
	}
	status.TaskCounts = FillStatusCounts(status.TaskCounts)
	return status, nil
}

// Reset drops all data.
func (ms *MemoryStorage) Reset(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrResetNotConfirmed
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.tasks = make(map[uuid.UUID]*Task)
	ms.dlq = make(map[uuid.UUID]*DeadLetterEntry)
	ms.chains = make(map[string]*ChainDefinition)
	ms.schedules = make(map[string]*ScheduleDefinition)
	ms.workflows = make(map[uuid.UUID]*Workflow)
	ms.byQueue = make(map[string][]uuid.UUID)
	ms.dlqByOrigin = make(map[uuid.UUID]uuid.UUID)
	return nil
}

// tasksIn returns the tasks of queue, or of every queue when queue is empty.
// The caller must hold ms.mu.
func (ms *MemoryStorage) tasksIn(queue string) []*Task {
	if queue == "" {
		out := make([]*Task, 0, len(ms.tasks))
		for _, task := range ms.tasks {
			out = append(out, task)
		}
		return out
	}

	ids := ms.byQueue[queue]
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := ms.tasks[id]; ok {
			out = append(out, task)
		}
	}
	return out
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneTask(t *Task) *Task {
	c := *t
	c.Params = slices.Clone(t.Params)
	c.Result = slices.Clone(t.Result)
	c.ClaimedAt = clonePtr(t.ClaimedAt)
	c.LastHeartbeatAt = clonePtr(t.LastHeartbeatAt)
	c.CompletedAt = clonePtr(t.CompletedAt)
	c.LastFailedAt = clonePtr(t.LastFailedAt)
	c.DependsOn = slices.Clone(t.DependsOn)
	c.WorkflowID = clonePtr(t.WorkflowID)
	return &c
}

func cloneDeadLetter(e *DeadLetterEntry) *DeadLetterEntry {
	c := *e
	c.Params = slices.Clone(e.Params)
	c.RetriedTaskID = clonePtr(e.RetriedTaskID)
	return &c
}

func cloneSchedule(d *ScheduleDefinition) *ScheduleDefinition {
	c := *d
	c.Params = slices.Clone(d.Params)
	c.LastRunAt = clonePtr(d.LastRunAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
