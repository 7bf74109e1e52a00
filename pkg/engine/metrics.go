// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// executionsTotal tracks finished executions by workflow and status
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_executions_total",
			Help: "Total workflow executions by workflow ID and terminal status",
		},
		[]string{"workflow", "status"},
	)

	// stepsTotal tracks executed steps by workflow, type, and outcome
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_steps_total",
			Help: "Total executed steps by workflow ID, step type, and outcome",
		},
		[]string{"workflow", "step_type", "outcome"},
	)

	// stepDuration tracks per-step wall time
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conveyor_step_duration_seconds",
			Help:    "Step execution duration by workflow ID and step type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow", "step_type"},
	)

	// activeExecutions tracks executions currently inside the interpreter loop
	activeExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conveyor_active_executions",
			Help: "Number of executions currently running",
		},
	)

	// callRetries tracks call step retry attempts
	callRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_call_retries_total",
			Help: "Total call step retries by workflow ID and service",
		},
		[]string{"workflow", "service"},
	)
)

// recordExecution increments the execution counter
func recordExecution(workflowID, status string) {
	executionsTotal.WithLabelValues(workflowID, status).Inc()
}

// recordStep observes one step invocation
func recordStep(workflowID, stepType, outcome string, duration time.Duration) {
	stepsTotal.WithLabelValues(workflowID, stepType, outcome).Inc()
	stepDuration.WithLabelValues(workflowID, stepType).Observe(duration.Seconds())
}

// recordRetry increments the call retry counter
func recordRetry(workflowID, service string) {
	callRetries.WithLabelValues(workflowID, service).Inc()
}
