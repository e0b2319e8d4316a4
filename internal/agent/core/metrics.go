package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_tasks_started_total",
		Help: "Tasks accepted by the orchestrator.",
	})
	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_tasks_finished_total",
		Help: "Tasks reaching a terminal phase.",
	}, []string{"status", "error_kind"})
	tasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_tasks_running",
		Help: "Tasks currently executing.",
	})
	thoughtSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_thought_steps_total",
		Help: "Thought steps emitted by phase.",
	}, []string{"phase"})
	recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_recoveries_total",
		Help: "Recovery verdicts by error kind and action.",
	}, []string{"kind", "action"})
	operatorAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_operator_alerts_total",
		Help: "Operator-visible alerts raised during recovery.",
	}, []string{"kind", "operation"})
	tokensConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_tokens_total",
		Help: "Model tokens consumed by purpose.",
	}, []string{"purpose"})
	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_persist_failures_total",
		Help: "Terminal task records the store rejected.",
	})
)
