package observability

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	runs          *CounterVec
	runDuration   *HistogramVec
	pending       *GaugeVec
	groupsCreated *CounterVec
	dispatchFail  *CounterVec
	jobs          *CounterVec
	jobDuration   *HistogramVec
	queueDepth    *GaugeVec
	redisUp       *GaugeVec
	apiRequests   *CounterVec
	apiLatency    *HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		runs:          NewCounterVec("aggregator_runs_total", "Aggregation runs by outcome", []string{"type", "outcome"}),
		runDuration:   NewHistogramVec("aggregator_run_duration_seconds", "Aggregation run latency", []string{"type"}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}),
		pending:       NewGaugeVec("aggregator_pending_requests", "Pending requests seen by the last run", []string{"type"}),
		groupsCreated: NewCounterVec("aggregator_groups_created_total", "Request groups created and dispatched", []string{"type"}),
		dispatchFail:  NewCounterVec("aggregator_group_failures_total", "Chunks that failed to be created or dispatched", []string{"type"}),
		jobs:          NewCounterVec("aggregator_jobs_total", "processBatch jobs handled", []string{"type", "status"}),
		jobDuration:   NewHistogramVec("aggregator_job_duration_seconds", "processBatch handler latency", []string{"type", "status"}, nil),
		queueDepth:    NewGaugeVec("aggregator_queue_jobs", "Jobs per queue state", []string{"queue", "state"}),
		redisUp:       NewGaugeVec("aggregator_redis_up", "Redis reachability", []string{"addr"}),
		apiRequests:   NewCounterVec("aggregator_admin_requests_total", "Admin API requests", []string{"method", "route", "status"}),
		apiLatency:    NewHistogramVec("aggregator_admin_request_duration_seconds", "Admin API latency", []string{"method", "route"}, nil),
	}
}

// ObserveRun records one aggregation pass. outcome is a skip reason, "ok" or
// "error".
func (m *Metrics) ObserveRun(aggType, outcome string, pending, created, failed int, dur time.Duration) {
	if m == nil {
		return
	}
	m.runs.Inc(aggType, outcome)
	m.runDuration.Observe(dur.Seconds(), aggType)
	m.pending.Set(float64(pending), aggType)
	if created > 0 {
		m.groupsCreated.Add(float64(created), aggType)
	}
	if failed > 0 {
		m.dispatchFail.Add(float64(failed), aggType)
	}
}

func (m *Metrics) ObserveJob(aggType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobs.Inc(aggType, status)
	m.jobDuration.Observe(dur.Seconds(), aggType, status)
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.Inc(method, route, strconv.Itoa(status))
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

// InstrumentHandler wraps a queue handler with job metrics.
func (m *Metrics) InstrumentHandler(aggType string, h queue.Handler) queue.Handler {
	if m == nil {
		return h
	}
	return func(ctx context.Context, job *queue.Job) error {
		start := time.Now()
		err := h(ctx, job)
		status := "succeeded"
		if err != nil {
			status = "failed"
		}
		m.ObserveJob(aggType, status, time.Since(start))
		return err
	}
}

// StartQueueCollector polls the queue backlog until ctx is done.
func (m *Metrics) StartQueueCollector(ctx context.Context, log *logger.Logger, name string, insp queue.Inspector, interval time.Duration) {
	if m == nil || insp == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.CollectQueue(ctx, name, insp); err != nil {
					log.Warn("metrics: queue stats failed", "queue", name, "error", err)
				}
			}
		}
	}()
}

func (m *Metrics) CollectQueue(ctx context.Context, name string, insp queue.Inspector) error {
	st, err := insp.Stats(ctx)
	if err != nil {
		return err
	}
	m.queueDepth.Set(float64(st.Waiting), name, "waiting")
	m.queueDepth.Set(float64(st.Active), name, "active")
	m.queueDepth.Set(float64(st.Delayed), name, "delayed")
	m.queueDepth.Set(float64(st.Failed), name, "failed")
	return nil
}

// StartRedisCollector pings Redis on an interval and exports reachability.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string, rdb goredis.UniversalClient, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0, addr)
					log.Warn("metrics: redis ping failed", "error", err)
					continue
				}
				m.redisUp.Set(1, addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []interface{ WritePrometheus(io.Writer) error }{
		m.runs,
		m.runDuration,
		m.pending,
		m.groupsCreated,
		m.dispatchFail,
		m.jobs,
		m.jobDuration,
		m.queueDepth,
		m.redisUp,
		m.apiRequests,
		m.apiLatency,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}
