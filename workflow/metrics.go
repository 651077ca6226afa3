package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 引擎的 prometheus 指标, 为nil的时候所有方法都是空操作
type Metrics struct {
	instancesStarted   *prometheus.CounterVec
	instancesFinished  *prometheus.CounterVec
	tasksCreated       *prometheus.CounterVec
	tasksResolved      *prometheus.CounterVec
	routeHops          prometheus.Histogram
	operationErrors    *prometheus.CounterVec
	definitionsChanged *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		instancesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval_workflow",
			Subsystem: "instance",
			Name:      "started_total",
			Help:      "Total workflow instances started",
		}, []string{"definition"}),
		instancesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval_workflow",
			Subsystem: "instance",
			Name:      "finished_total",
			Help:      "Total workflow instances reaching a terminal status",
		}, []string{"status"}),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval_workflow",
			Subsystem: "task",
			Name:      "created_total",
			Help:      "Total tasks created by the router",
		}, []string{"node"}),
		tasksResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval_workflow",
			Subsystem: "task",
			Name:      "resolved_total",
			Help:      "Total tasks leaving the pending/in_progress statuses",
		}, []string{"status"}),
		routeHops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "approval_workflow",
			Subsystem: "router",
			Name:      "hops",
			Help:      "Nodes visited per routing advancement",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100},
		}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval_workflow",
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Total failed engine operations by error kind",
		}, []string{"operation", "kind"}),
		definitionsChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approval_workflow",
			Subsystem: "definition",
			Name:      "changes_total",
			Help:      "Total definition lifecycle changes",
		}, []string{"action"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.instancesStarted,
			m.instancesFinished,
			m.tasksCreated,
			m.tasksResolved,
			m.routeHops,
			m.operationErrors,
			m.definitionsChanged,
		)
	}
	return m
}

func (m *Metrics) instanceStarted(definitionName string) {
	if m == nil {
		return
	}
	m.instancesStarted.WithLabelValues(definitionName).Inc()
}

func (m *Metrics) instanceFinished(status WorkflowInstanceStatus) {
	if m == nil {
		return
	}
	m.instancesFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) taskCreated(nodeID string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(nodeID).Inc()
}

func (m *Metrics) taskResolved(status WorkflowTaskStatus) {
	if m == nil {
		return
	}
	m.tasksResolved.WithLabelValues(status).Inc()
}

func (m *Metrics) observeRouteHops(hops int) {
	if m == nil || hops == 0 {
		return
	}
	m.routeHops.Observe(float64(hops))
}

func (m *Metrics) definitionChanged(action HistoryAction) {
	if m == nil {
		return
	}
	m.definitionsChanged.WithLabelValues(action).Inc()
}

func (m *Metrics) operationFailed(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation, ErrorKind(err)).Inc()
}

// ErrorKind 错误分类的名称, 指标和CLI输出使用
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return "not_found"
	case IsValidationFailed(err):
		return "validation_failed"
	case IsInvalidState(err):
		return "invalid_state"
	case IsNotImplemented(err):
		return "not_implemented"
	case IsConcurrentModification(err):
		return "concurrent_modification"
	case IsParamInvalid(err):
		return "param_invalid"
	}
	return "internal"
}
