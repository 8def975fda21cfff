package main

import (
	_ "embed"

	"github.com/goccy/go-json"

	"github.com/qirsh/qirsh/openbank"
)

//go:embed .secrets.json
var secretsFile []byte

func parseConfig(data *openbank.Config) error {
	if err := json.Unmarshal(secretsFile, data); err != nil {
		logrusLogger.Printf("Error in parsing config files: %v", err)
		return err
	}
	return nil
}

// configDefaults fills in whatever the secrets file left out.
func configDefaults(data *openbank.Config) {
	if data.Port == "" {
		data.Port = ":8084"
	}
	if data.RedisPort == "" {
		data.RedisPort = "localhost:6379"
	}
	if data.DatabasePath == "" {
		data.DatabasePath = "qirsh.db"
	}
	if data.GatewayURL == "" {
		data.GatewayURL = openbank.GatewaySandboxURL
	}
	if data.RateLimit == 0 {
		data.RateLimit = 10
	}
	if data.RateLimitWindowMs == 0 {
		data.RateLimitWindowMs = 60_000
	}
}
