package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks a batch of traversals, such as one CLI run with
// several start nodes.
type ProgressBar struct {
	sync.Mutex
	ID        string
	Name      string
	StartTime time.Time
	Total     uint64
	Succeeded uint64
	Failed    uint64
	Running   uint64
}

type progressBarRsp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Succeeded uint64    `json:"succeeded"`
	Failed    uint64    `json:"failed"`
	Running   uint64    `json:"running"`
}

// Begin marks a traversal as running.
func (b *ProgressBar) Begin() {
	b.Lock()
	defer b.Unlock()

	b.Running++
}

// End moves a running traversal to succeeded or failed.
func (b *ProgressBar) End(err error) {
	b.Lock()
	defer b.Unlock()

	if b.Running == 0 {
		panic("progress bar has no running traversal")
	}

	b.Running--

	if err != nil {
		b.Failed++
		return
	}

	b.Succeeded++
}

func (b *ProgressBar) snapshot() progressBarRsp {
	b.Lock()
	defer b.Unlock()

	return progressBarRsp{
		ID:        b.ID,
		Name:      b.Name,
		StartTime: b.StartTime,
		Total:     b.Total,
		Succeeded: b.Succeeded,
		Failed:    b.Failed,
		Running:   b.Running,
	}
}
