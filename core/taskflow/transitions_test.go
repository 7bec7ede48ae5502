package taskflow

import (
	"testing"

	"assembler/core/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender    = uuid.New()
	recipient = uuid.New()
	outsider  = uuid.New()
)

func task(status string) *schema.Task {
	return &schema.Task{Id: uuid.New(), SenderId: sender, RecipientId: recipient, Status: status}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name   string
		status string
		action Action
		actor  uuid.UUID
		target string
	}{
		{"complete from in progress", schema.TaskInProgress, ActionComplete, recipient, schema.TaskOnReview},
		{"complete from rejected", schema.TaskRejected, ActionComplete, recipient, schema.TaskOnReview},
		{"accept from on review", schema.TaskOnReview, ActionAccept, sender, schema.TaskAccepted},
		{"reject from on review", schema.TaskOnReview, ActionReject, sender, schema.TaskRejected},
		{"reset from accepted", schema.TaskAccepted, ActionReset, sender, schema.TaskInProgress},
		{"reset from rejected", schema.TaskRejected, ActionReset, sender, schema.TaskInProgress},
		{"abandon by sender", schema.TaskInProgress, ActionAbandon, sender, schema.TaskAbandoned},
		{"abandon by recipient", schema.TaskInProgress, ActionAbandon, recipient, schema.TaskAbandoned},
		{"reopen from abandoned", schema.TaskAbandoned, ActionReopen, recipient, schema.TaskInProgress},
		{"reopen from on review", schema.TaskOnReview, ActionReopen, recipient, schema.TaskInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := Transition(task(tt.status), tt.action, tt.actor)
			require.NoError(t, err)
			assert.Equal(t, tt.target, target)
		})
	}
}

func TestTransitionInvalidFromStatus(t *testing.T) {
	tests := []struct {
		name   string
		status string
		action Action
		actor  uuid.UUID
	}{
		{"accept in progress", schema.TaskInProgress, ActionAccept, sender},
		{"reject in progress", schema.TaskInProgress, ActionReject, sender},
		{"complete on review", schema.TaskOnReview, ActionComplete, recipient},
		{"complete accepted", schema.TaskAccepted, ActionComplete, recipient},
		{"abandon accepted", schema.TaskAccepted, ActionAbandon, sender},
		{"reset in progress", schema.TaskInProgress, ActionReset, sender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transition(task(tt.status), tt.action, tt.actor)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestTransitionActorGates(t *testing.T) {
	tests := []struct {
		name   string
		status string
		action Action
		actor  uuid.UUID
	}{
		{"sender cannot complete", schema.TaskInProgress, ActionComplete, sender},
		{"recipient cannot accept", schema.TaskOnReview, ActionAccept, recipient},
		{"recipient cannot reject", schema.TaskOnReview, ActionReject, recipient},
		{"recipient cannot reset", schema.TaskRejected, ActionReset, recipient},
		{"sender cannot reopen", schema.TaskAbandoned, ActionReopen, sender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transition(task(tt.status), tt.action, tt.actor)
			assert.ErrorIs(t, err, ErrUnauthorizedActor)
		})
	}
}

func TestTransitionRejectsOutsiders(t *testing.T) {
	_, err := Transition(task(schema.TaskInProgress), ActionComplete, outsider)
	assert.ErrorIs(t, err, ErrUnauthorizedActor)
}

func TestTransitionUnknownAction(t *testing.T) {
	_, err := Transition(task(schema.TaskInProgress), Action("finish"), recipient)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestAllowedActions(t *testing.T) {
	assert.Equal(t, []Action{ActionAbandon}, AllowedActions(task(schema.TaskInProgress), sender))
	assert.Equal(t, []Action{ActionComplete, ActionAbandon}, AllowedActions(task(schema.TaskInProgress), recipient))

	assert.Equal(t, []Action{ActionAccept, ActionReject}, AllowedActions(task(schema.TaskOnReview), sender))
	assert.Equal(t, []Action{ActionReopen}, AllowedActions(task(schema.TaskOnReview), recipient))

	assert.Equal(t, []Action{ActionReset}, AllowedActions(task(schema.TaskAccepted), sender))
	assert.Empty(t, AllowedActions(task(schema.TaskAccepted), recipient))

	assert.Empty(t, AllowedActions(task(schema.TaskInProgress), outsider))
}

func TestDeletable(t *testing.T) {
	assert.True(t, Deletable(schema.TaskInProgress))
	assert.True(t, Deletable(schema.TaskRejected))
	assert.True(t, Deletable(schema.TaskAbandoned))

	assert.False(t, Deletable(schema.TaskOnReview))
	assert.False(t, Deletable(schema.TaskAccepted))
}
