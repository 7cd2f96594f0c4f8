// Package tracing turns driver activity into tasks that tracers can record.
//
// A task is opened with StartTask, marked with AddTaskStep as it reaches
// milestones (start, done, collect) and closed with EndTask. Nothing is
// built when the domain carries no hooks, so untraced drivers pay only a
// length check.
package tracing

import (
	"log"

	"github.com/sarchlab/bfsaccel/hooking"
)

// Positions at which tracing hooks fire.
var (
	HookPosTaskStart = &hooking.HookPos{Name: "TaskStart"}
	HookPosTaskStep  = &hooking.HookPos{Name: "TaskStep"}
	HookPosTaskEnd   = &hooking.HookPos{Name: "TaskEnd"}
)

// StartTask opens a task of the given kind on a named domain. The id, kind
// and what must not be empty.
func StartTask(
	id, parentID string,
	domain hooking.NamedHookable,
	kind, what string,
	detail any,
) {
	if !traced(domain) {
		return
	}

	switch {
	case id == "":
		log.Panicf("tracing: task on %q has no id", domain.Name())
	case kind == "" || what == "":
		log.Panicf("tracing: task %s on %q needs a kind and a what",
			id, domain.Name())
	}

	emit(domain, HookPosTaskStart, Task{
		ID:       id,
		ParentID: parentID,
		Kind:     kind,
		What:     what,
		Where:    domain.Name(),
		Detail:   detail,
	})
}

// AddTaskStep records that task id reached the named milestone.
func AddTaskStep(id string, domain hooking.NamedHookable, what string) {
	if !traced(domain) {
		return
	}

	emit(domain, HookPosTaskStep, Task{
		ID:    id,
		Steps: []TaskStep{{What: what}},
	})
}

// EndTask closes task id.
func EndTask(id string, domain hooking.NamedHookable) {
	if !traced(domain) {
		return
	}

	emit(domain, HookPosTaskEnd, Task{ID: id})
}

func traced(domain hooking.NamedHookable) bool {
	if domain == nil {
		log.Panic("tracing: nil domain")
	}

	if domain.NumHooks() == 0 {
		return false
	}

	if domain.Name() == "" {
		log.Panic("tracing: traced domain must be named")
	}

	return true
}

func emit(domain hooking.NamedHookable, pos *hooking.HookPos, task Task) {
	domain.InvokeHook(hooking.HookCtx{
		Domain: domain,
		Pos:    pos,
		Item:   task,
	})
}
