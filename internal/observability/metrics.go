package observability

import (
	"io"
	"net/http"
	"time"
)

// Metrics is the in-process metrics recorder consumed by the scheduler and
// the gateway-facing services. Exposed in Prometheus text format.
type Metrics struct {
	llmRequests   *CounterVec
	llmLatency    *HistogramVec
	llmTokens     *CounterVec
	llmCost       *CounterVec
	retrievals    *CounterVec
	retrievalLat  *HistogramVec
	jobTransition *CounterVec
	jobBatches    *HistogramVec
	jobItems      *Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		llmRequests: NewCounterVec("studyforge_llm_requests_total",
			"LLM gateway requests by endpoint and status", []string{"endpoint", "status"}),
		llmLatency: NewHistogramVec("studyforge_llm_latency_seconds",
			"LLM gateway request latency", []string{"endpoint"}, nil),
		llmTokens: NewCounterVec("studyforge_llm_tokens_total",
			"Estimated tokens by direction", []string{"direction"}),
		llmCost: NewCounterVec("studyforge_llm_cost_usd_total",
			"Estimated LLM spend by job type", []string{"job_type"}),
		retrievals: NewCounterVec("studyforge_retrievals_total",
			"Retrieval pipeline runs by outcome", []string{"outcome"}),
		retrievalLat: NewHistogramVec("studyforge_retrieval_latency_seconds",
			"End-to-end retrieval latency", nil, nil),
		jobTransition: NewCounterVec("studyforge_job_transitions_total",
			"Job state transitions", []string{"job_type", "to"}),
		jobBatches: NewHistogramVec("studyforge_job_batch_seconds",
			"Batch processing duration", []string{"job_type"}, nil),
		jobItems: NewCounter("studyforge_job_items_total",
			"Generated items across all jobs"),
	}
}

func (m *Metrics) ObserveLLMRequest(endpoint, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmRequests.Inc(endpoint, status)
	m.llmLatency.Observe(dur.Seconds(), endpoint)
	if inputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens), "input")
	}
	if outputTokens > 0 {
		m.llmTokens.Add(float64(outputTokens), "output")
	}
}

func (m *Metrics) AddCost(jobType string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.llmCost.Add(amount, jobType)
}

func (m *Metrics) ObserveRetrieval(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.retrievals.Inc(outcome)
	m.retrievalLat.Observe(dur.Seconds())
}

func (m *Metrics) IncJobTransition(jobType, to string) {
	if m == nil {
		return
	}
	m.jobTransition.Inc(jobType, to)
}

func (m *Metrics) ObserveJobBatch(jobType string, dur time.Duration, items int) {
	if m == nil {
		return
	}
	m.jobBatches.Observe(dur.Seconds(), jobType)
	if items > 0 {
		m.jobItems.Add(float64(items))
	}
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.llmRequests, m.llmLatency, m.llmTokens, m.llmCost,
		m.retrievals, m.retrievalLat,
		m.jobTransition, m.jobBatches, m.jobItems,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}
