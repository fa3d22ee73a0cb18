package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type cycleKey struct {
	agent  string
	status string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu             sync.Mutex
	cycles         map[cycleKey]uint64
	trips          map[string]uint64
	memoryWarnings uint64
	durations      map[string]*histogram
}

var runnerCollector = &collector{
	cycles:    make(map[cycleKey]uint64),
	trips:     make(map[string]uint64),
	durations: make(map[string]*histogram),
}

// ObserveAgentCycle records the outcome and duration of one agent cycle.
func ObserveAgentCycle(agent, status string, duration time.Duration) {
	runnerCollector.observeCycle(agent, status, duration)
}

// ObserveCircuitTrip records a circuit-breaker trip for an agent.
func ObserveCircuitTrip(agent string) {
	runnerCollector.mu.Lock()
	runnerCollector.trips[agent]++
	runnerCollector.mu.Unlock()
}

// ObserveMemoryWarning records a memory-threshold warning.
func ObserveMemoryWarning() {
	runnerCollector.mu.Lock()
	runnerCollector.memoryWarnings++
	runnerCollector.mu.Unlock()
}

func (c *collector) observeCycle(agent, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cycles[cycleKey{agent: agent, status: status}]++

	hist := c.durations[agent]
	if hist == nil {
		hist = newHistogram()
		c.durations[agent] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	// Agent cycles include chain and prediction round-trips, so buckets
	// stretch well past typical HTTP latencies.
	buckets := []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, runnerCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type cycleMetric struct {
		cycleKey
		value uint64
	}
	type tripMetric struct {
		agent string
		value uint64
	}
	type durationMetric struct {
		agent   string
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	cycles := make([]cycleMetric, 0, len(c.cycles))
	for key, value := range c.cycles {
		cycles = append(cycles, cycleMetric{cycleKey: key, value: value})
	}
	trips := make([]tripMetric, 0, len(c.trips))
	for agent, value := range c.trips {
		trips = append(trips, tripMetric{agent: agent, value: value})
	}
	durations := make([]durationMetric, 0, len(c.durations))
	for agent, hist := range c.durations {
		durations = append(durations, durationMetric{
			agent:   agent,
			buckets: append([]float64(nil), hist.buckets...),
			counts:  append([]uint64(nil), hist.counts...),
			sum:     hist.sum,
			count:   hist.count,
		})
	}

	sort.Slice(cycles, func(i, j int) bool {
		if cycles[i].agent == cycles[j].agent {
			return cycles[i].status < cycles[j].status
		}
		return cycles[i].agent < cycles[j].agent
	})
	sort.Slice(trips, func(i, j int) bool { return trips[i].agent < trips[j].agent })
	sort.Slice(durations, func(i, j int) bool { return durations[i].agent < durations[j].agent })

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP tradefleet_agent_cycles_total Total number of agent execution cycles.\n")
	builder.WriteString("# TYPE tradefleet_agent_cycles_total counter\n")
	for _, metric := range cycles {
		builder.WriteString(fmt.Sprintf("tradefleet_agent_cycles_total{agent=\"%s\",status=\"%s\"} %d\n",
			escape(metric.agent), escape(metric.status), metric.value))
	}

	builder.WriteString("# HELP tradefleet_circuit_trips_total Total number of circuit-breaker trips.\n")
	builder.WriteString("# TYPE tradefleet_circuit_trips_total counter\n")
	for _, metric := range trips {
		builder.WriteString(fmt.Sprintf("tradefleet_circuit_trips_total{agent=\"%s\"} %d\n",
			escape(metric.agent), metric.value))
	}

	builder.WriteString("# HELP tradefleet_memory_warnings_total Total number of memory-threshold warnings.\n")
	builder.WriteString("# TYPE tradefleet_memory_warnings_total counter\n")
	builder.WriteString(fmt.Sprintf("tradefleet_memory_warnings_total %d\n", c.memoryWarnings))

	builder.WriteString("# HELP tradefleet_agent_cycle_duration_seconds Agent cycle duration in seconds.\n")
	builder.WriteString("# TYPE tradefleet_agent_cycle_duration_seconds histogram\n")
	for _, metric := range durations {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("tradefleet_agent_cycle_duration_seconds_bucket{agent=\"%s\",le=\"%s\"} %d\n",
				escape(metric.agent), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("tradefleet_agent_cycle_duration_seconds_bucket{agent=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.agent), metric.count))
		builder.WriteString(fmt.Sprintf("tradefleet_agent_cycle_duration_seconds_sum{agent=\"%s\"} %s\n",
			escape(metric.agent), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("tradefleet_agent_cycle_duration_seconds_count{agent=\"%s\"} %d\n",
			escape(metric.agent), metric.count))
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
