package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assembler_task_transitions_total",
		Help: "Task status transitions applied, by action.",
	}, []string{"action"})

	taskTransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assembler_task_transition_conflicts_total",
		Help: "Task transitions rejected because the status changed concurrently.",
	})

	notificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assembler_notification_failures_total",
		Help: "Notification deliveries that failed after the triggering change committed.",
	})
)
