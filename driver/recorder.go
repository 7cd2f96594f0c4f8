package driver

import (
	"github.com/sarchlab/bfsaccel/datarecording"
	"github.com/sarchlab/bfsaccel/hooking"
)

// SessionTable is the table a SessionRecorder writes to.
const SessionTable = "sessions"

// SessionRow is one ended session as stored by a SessionRecorder.
type SessionRow struct {
	ID               string
	Driver           string
	Start            uint32
	Nodes            int
	Outcome          string
	ElapsedSeconds   float64
	Cycles           uint64
	NodesVisited     int
	EdgesTraversed   int
	TEPS             float64
	Polls            int
	RegisterReads    uint64
	RegisterWrites   uint64
	BytesTransferred uint64
}

// A SessionRecorder is a hook that stores every ended session.
type SessionRecorder struct {
	recorder datarecording.DataRecorder
}

// NewSessionRecorder creates the session table and returns a hook that fills
// it. Attach it with AcceptHook.
func NewSessionRecorder(recorder datarecording.DataRecorder) *SessionRecorder {
	recorder.CreateTable(SessionTable, SessionRow{})

	return &SessionRecorder{recorder: recorder}
}

// Func records the session if ctx is a session end.
func (r *SessionRecorder) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosSessionEnd {
		return
	}

	summary := ctx.Item.(SessionSummary)
	name := ""

	if named, ok := ctx.Domain.(hooking.Named); ok {
		name = named.Name()
	}

	r.recorder.InsertData(SessionTable, SessionRow{
		ID:               summary.ID,
		Driver:           name,
		Start:            summary.Start,
		Nodes:            summary.NumNodes,
		Outcome:          summary.Outcome,
		ElapsedSeconds:   summary.Metrics.Elapsed.Seconds(),
		Cycles:           summary.Metrics.Cycles,
		NodesVisited:     summary.Metrics.NodesVisited,
		EdgesTraversed:   summary.Metrics.EdgesTraversed,
		TEPS:             summary.Metrics.TEPS,
		Polls:            summary.Metrics.Polls,
		RegisterReads:    summary.Metrics.RegisterReads,
		RegisterWrites:   summary.Metrics.RegisterWrites,
		BytesTransferred: summary.Metrics.BytesTransferred,
	})
}
