package gateway

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func Instrumentation() gin.HandlerFunc {
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "qirsh",
		Subsystem:   "request",
		Name:        "requests_count",
		Help:        "Number of requests per each endpoint",
		ConstLabels: nil,
	}, []string{"code", "method", "handler", "host", "url"})

	resTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "qirsh",
		Subsystem:   "response",
		Name:        "response_time_hist",
		Help:        "qirsh response duration",
		ConstLabels: nil,
		Buckets:     nil,
	})

	linkOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qirsh",
		Subsystem: "linking",
		Name:      "callback_outcomes",
		Help:      "Bank linking callback outcomes by redirect result",
	}, []string{"outcome"})

	colls := []prometheus.Collector{counterVec, resTime, linkOutcomes}
	for _, v := range colls {
		err := prometheus.Register(v)
		if err != nil {
			panic(err)
		}
	}
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := float64(time.Since(start)) * 1e-6 // to millisecond

		status := strconv.Itoa(c.Writer.Status())
		counterVec.WithLabelValues(status, c.Request.Method, c.HandlerName(), c.Request.Host, c.Request.URL.Path).Inc()
		resTime.Observe(duration)

		if outcome, ok := c.Get("link_outcome"); ok {
			if s, ok := outcome.(string); ok {
				linkOutcomes.WithLabelValues(s).Inc()
			}
		}
	}
}
