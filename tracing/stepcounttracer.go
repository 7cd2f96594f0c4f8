package tracing

import (
	"sync"
)

// StepCountTracer counts milestones. For each step name it keeps both how
// often the step was reached and how many distinct tasks reached it, so a
// session that polls ten times counts ten polls but one polling task.
type StepCountTracer struct {
	filter TaskFilter

	lock   sync.Mutex
	open   map[string]map[string]bool
	order  []string
	steps  map[string]uint64
	owners map[string]uint64
}

// NewStepCountTracer creates a StepCountTracer that only looks at tasks
// accepted by filter.
func NewStepCountTracer(filter TaskFilter) *StepCountTracer {
	return &StepCountTracer{
		filter: filter,
		open:   make(map[string]map[string]bool),
		steps:  make(map[string]uint64),
		owners: make(map[string]uint64),
	}
}

// GetStepNames returns the step names in first-seen order.
func (t *StepCountTracer) GetStepNames() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.order...)
}

// GetStepCount returns how many times the named step was reached.
func (t *StepCountTracer) GetStepCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.steps[stepName]
}

// GetTaskCount returns how many tasks reached the named step at least once.
func (t *StepCountTracer) GetTaskCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.owners[stepName]
}

// StartTask begins tracking task if the filter accepts it.
func (t *StepCountTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.open[task.ID] = make(map[string]bool)
	t.lock.Unlock()
}

// StepTask counts each step of a tracked task.
func (t *StepCountTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	seen, ok := t.open[task.ID]
	if !ok {
		return
	}

	for _, step := range task.Steps {
		if _, known := t.steps[step.What]; !known {
			t.order = append(t.order, step.What)
		}
		t.steps[step.What]++

		if !seen[step.What] {
			seen[step.What] = true
			t.owners[step.What]++
		}
	}
}

// EndTask stops tracking task.
func (t *StepCountTracer) EndTask(task Task) {
	t.lock.Lock()
	delete(t.open, task.ID)
	t.lock.Unlock()
}
