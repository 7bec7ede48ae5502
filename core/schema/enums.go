package schema

import "fmt"

// Task statuses.
const (
	TaskInProgress = "in_progress"
	TaskOnReview   = "on_review"
	TaskAccepted   = "accepted"
	TaskRejected   = "rejected"
	TaskAbandoned  = "abandoned"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Module statuses.
const (
	ModuleInProgress = "in_progress"
	ModuleCompleted  = "completed"
	ModuleCancelled  = "cancelled"
)

func CheckValidTaskStatus(status string) error {
	switch status {
	case TaskInProgress, TaskOnReview, TaskAccepted, TaskRejected, TaskAbandoned:
		return nil
	}
	return fmt.Errorf("invalid task status '%v'", status)
}

func CheckValidTaskPriority(priority string) error {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return nil
	}
	return fmt.Errorf("invalid task priority '%v'", priority)
}

func CheckValidModuleStatus(status string) error {
	switch status {
	case ModuleInProgress, ModuleCompleted, ModuleCancelled:
		return nil
	}
	return fmt.Errorf("invalid module status '%v'", status)
}
