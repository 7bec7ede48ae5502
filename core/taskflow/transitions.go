// Package taskflow is the single source of truth for task status transitions.
// Both the API layer (to show or hide actions) and the mutating endpoint (to
// authorize) consult the same table, so the rules live in exactly one place.
package taskflow

import (
	"errors"
	"slices"

	"assembler/core/schema"

	"github.com/google/uuid"
)

type Action string

const (
	ActionComplete Action = "complete"
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionReset    Action = "reset"
	ActionAbandon  Action = "abandon"
	ActionReopen   Action = "reopen"
)

var (
	ErrUnknownAction     = errors.New("unknown task action")
	ErrInvalidTransition = errors.New("action is not valid from the current task status")
	ErrUnauthorizedActor = errors.New("user is not permitted to perform this task action")

	// ErrStatusConflict is returned by the persisting layer when the status
	// changed between read and write (compare-and-set failed).
	ErrStatusConflict = errors.New("task status was changed concurrently")
)

type actorGate int

const (
	senderOnly actorGate = iota
	recipientOnly
	senderOrRecipient
)

type rule struct {
	sources []string
	gate    actorGate
	target  string
}

var transitions = map[Action]rule{
	ActionComplete: {
		sources: []string{schema.TaskInProgress, schema.TaskRejected},
		gate:    recipientOnly,
		target:  schema.TaskOnReview,
	},
	ActionAccept: {
		sources: []string{schema.TaskOnReview},
		gate:    senderOnly,
		target:  schema.TaskAccepted,
	},
	ActionReject: {
		sources: []string{schema.TaskOnReview},
		gate:    senderOnly,
		target:  schema.TaskRejected,
	},
	ActionReset: {
		sources: []string{schema.TaskAccepted, schema.TaskRejected},
		gate:    senderOnly,
		target:  schema.TaskInProgress,
	},
	ActionAbandon: {
		sources: []string{schema.TaskInProgress},
		gate:    senderOrRecipient,
		target:  schema.TaskAbandoned,
	},
	ActionReopen: {
		sources: []string{schema.TaskAbandoned, schema.TaskOnReview},
		gate:    recipientOnly,
		target:  schema.TaskInProgress,
	},
}

// actionOrder keeps AllowedActions deterministic.
var actionOrder = []Action{
	ActionComplete, ActionAccept, ActionReject,
	ActionReset, ActionAbandon, ActionReopen,
}

func (r rule) permits(task *schema.Task, actorId uuid.UUID) bool {
	switch r.gate {
	case senderOnly:
		return actorId == task.SenderId
	case recipientOnly:
		return actorId == task.RecipientId
	default:
		return actorId == task.SenderId || actorId == task.RecipientId
	}
}

// Transition validates the action against the task's current status and the
// acting user, returning the target status. It never trusts upstream gating:
// actor and source status are re-checked here regardless of what the caller
// already verified.
func Transition(task *schema.Task, action Action, actorId uuid.UUID) (string, error) {
	r, ok := transitions[action]
	if !ok {
		return "", ErrUnknownAction
	}

	if actorId != task.SenderId && actorId != task.RecipientId {
		return "", ErrUnauthorizedActor
	}

	if !slices.Contains(r.sources, task.Status) {
		return "", ErrInvalidTransition
	}

	if !r.permits(task, actorId) {
		return "", ErrUnauthorizedActor
	}

	return r.target, nil
}

// AllowedActions lists the actions the actor may currently perform on the
// task, in a stable order.
func AllowedActions(task *schema.Task, actorId uuid.UUID) []Action {
	allowed := make([]Action, 0)
	for _, action := range actionOrder {
		r := transitions[action]
		if slices.Contains(r.sources, task.Status) && r.permits(task, actorId) {
			allowed = append(allowed, action)
		}
	}
	return allowed
}

// Deletable reports whether a task in the given status may be deleted. Tasks
// under review or already accepted are retained.
func Deletable(status string) bool {
	return status != schema.TaskOnReview && status != schema.TaskAccepted
}
