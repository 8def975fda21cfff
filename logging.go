package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qirsh/qirsh/gateway"
	"github.com/qirsh/qirsh/openbank"
)

func configureLogger(cfg openbank.Config) {
	logrusLogger.Out = os.Stderr
	if cfg.IsDebug {
		logrusLogger.SetLevel(logrus.DebugLevel)
		logrusLogger.SetReportCaller(true)
	} else {
		logrusLogger.SetLevel(logrus.InfoLevel)
		logrusLogger.SetReportCaller(false)
	}
	logrusLogger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})
}

// logSampling keeps request logging quiet under load in production; debug
// builds log every request.
func logSampling(cfg openbank.Config) gateway.LogSamplingConfig {
	if cfg.IsDebug {
		return gateway.LogSamplingConfig{}
	}
	return gateway.LogSamplingConfig{Tick: 5 * time.Second, After: 2 * time.Second}
}

func rateLimitWindow(cfg openbank.Config) time.Duration {
	if cfg.RateLimitWindowMs <= 0 {
		return time.Minute
	}
	return time.Duration(cfg.RateLimitWindowMs) * time.Millisecond
}
