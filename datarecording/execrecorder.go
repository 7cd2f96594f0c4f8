package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecTable is the table an ExecRecorder writes to.
const ExecTable = "exec_info"

const execTimeFormat = "2006-01-02 15:04:05.000000000"

// ExecInfo is one property of a program execution.
type ExecInfo struct {
	Property string
	Value    string
}

// An ExecRecorder stores how a recording was produced: the command line, the
// working directory, extra properties, and when it started and ended.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []ExecInfo
}

// NewExecRecorder creates the exec_info table in recorder.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	recorder.CreateTable(ExecTable, ExecInfo{})

	return &ExecRecorder{recorder: recorder}
}

// Start notes the start time, the command line, and the working directory.
func (e *ExecRecorder) Start() {
	e.Add("Start Time", time.Now().Format(execTimeFormat))
	e.Add("Command", strings.Join(os.Args, " "))

	if wd, err := os.Getwd(); err == nil {
		e.Add("Working Directory", wd)
	}
}

// Add notes an extra property.
func (e *ExecRecorder) Add(property, value string) {
	e.entries = append(e.entries, ExecInfo{Property: property, Value: value})
}

// End writes everything noted so far along with the end time.
func (e *ExecRecorder) End() {
	e.Add("End Time", time.Now().Format(execTimeFormat))

	for _, entry := range e.entries {
		e.recorder.InsertData(ExecTable, entry)
	}

	e.entries = nil

	e.recorder.Flush()
}
