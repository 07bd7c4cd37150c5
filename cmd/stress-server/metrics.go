package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theimaginaryfoundation/stress-check/stress"
)

type metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	analysesTotal     *prometheus.CounterVec
	signalMissing     *prometheus.CounterVec
	scores            prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stress_analyses_total",
			Help: "Completed analyses by input type and severity band.",
		}, []string{"input_type", "band"}),
		signalMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stress_signal_missing_total",
			Help: "Analyses where an external signal was unavailable, by source.",
		}, []string{"source"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stress_score",
			Help:    "Distribution of final stress scores.",
			Buckets: []float64{25, 50, 75, 100},
		}),
	}
	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.analysesTotal,
		m.signalMissing,
		m.scores,
	)
	return m
}

func (m *metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// observe records res. modelSource labels a missing model signal.
func (m *metrics) observe(res stress.Result, modelSource string) {
	m.analysesTotal.WithLabelValues(res.InputType, res.Severity.Label).Inc()
	m.scores.Observe(float64(res.Score))
	if res.Model == nil {
		m.signalMissing.WithLabelValues(modelSource).Inc()
	}
	if res.Reasoning == nil {
		m.signalMissing.WithLabelValues(stress.SourceIntensity).Inc()
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
