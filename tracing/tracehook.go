package tracing

import (
	"log"

	"github.com/sarchlab/bfsaccel/hooking"
)

// CollectTrace attaches tracer to domain. Attaching the same tracer twice
// would double count every task, so it panics.
func CollectTrace(domain hooking.NamedHookable, tracer Tracer) {
	for _, h := range domain.Hooks() {
		if th, ok := h.(*traceHook); ok && th.tracer == tracer {
			log.Panicf("tracing: %s already traced by %T", domain.Name(), tracer)
		}
	}

	domain.AcceptHook(&traceHook{tracer: tracer})
}

type traceHook struct {
	tracer Tracer
}

func (h *traceHook) Func(ctx hooking.HookCtx) {
	task, ok := ctx.Item.(Task)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosTaskStart:
		h.tracer.StartTask(task)
	case HookPosTaskStep:
		h.tracer.StepTask(task)
	case HookPosTaskEnd:
		h.tracer.EndTask(task)
	}
}
