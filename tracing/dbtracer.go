package tracing

import (
	"sync"
	"time"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/bfsaccel/datarecording"
	"github.com/sarchlab/bfsaccel/timing"
)

// Table names used by DBTracer.
const (
	TaskTable = "trace"
	StepTable = "trace_steps"
)

// TaskEntry is a finished task as stored in the database. Times are seconds
// since the Unix epoch.
type TaskEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
}

// StepEntry is a step of a finished task.
type StepEntry struct {
	TaskID string
	What   string
	Time   float64
}

// DBTracer is a tracer that stores finished tasks through a DataRecorder.
// Tasks that never end are not stored.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller timing.TimeTeller
	backend    datarecording.DataRecorder

	tracingTasks map[string]*Task
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	timeTeller timing.TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TaskTable, TaskEntry{})
	dataRecorder.CreateTable(StepTable, StepEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]*Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	startingTaskMustBeValid(task)

	t.mu.Lock()
	defer t.mu.Unlock()

	task.StartTime = t.timeTeller.CurrentTime()
	t.tracingTasks[task.ID] = &task
}

func startingTaskMustBeValid(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	if task.Kind == "" {
		panic("task kind must be set")
	}

	if task.What == "" {
		panic("task what must be set")
	}

	if task.Where == "" {
		panic("task location must be set")
	}
}

// StepTask marks a step of a task.
func (t *DBTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	for _, step := range task.Steps {
		step.Time = t.timeTeller.CurrentTime()
		originalTask.Steps = append(originalTask.Steps, step)
	}
}

// EndTask marks the end of a task and writes it.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	originalTask.EndTime = t.timeTeller.CurrentTime()
	t.writeTaskToDB(originalTask)

	delete(t.tracingTasks, task.ID)
}

// Terminate drops unfinished tasks and flushes the backend.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tracingTasks = make(map[string]*Task)
	t.backend.Flush()
}

func (t *DBTracer) writeTaskToDB(task *Task) {
	t.backend.InsertData(TaskTable, TaskEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		StartTime: seconds(task.StartTime),
		EndTime:   seconds(task.EndTime),
	})

	for _, step := range task.Steps {
		t.backend.InsertData(StepTable, StepEntry{
			TaskID: task.ID,
			What:   step.What,
			Time:   seconds(step.Time),
		})
	}
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
