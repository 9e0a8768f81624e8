package observability

import (
	"strings"

	"github.com/smallbiznis/vertextax/internal/config"
)

// Config is the slice of process configuration the logging, tracing and
// metrics providers read.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OTLPEndpoint      string
	OTLPProtocol      string
	OtelSamplingRatio float64
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "vertextax"
	}
	return Config{
		ServiceName:       name,
		Environment:       strings.TrimSpace(cfg.Environment),
		Version:           strings.TrimSpace(cfg.AppVersion),
		LogLevel:          strings.TrimSpace(cfg.LogLevel),
		LogFormat:         strings.TrimSpace(cfg.LogFormat),
		OtelEnabled:       cfg.OtelEnabled,
		OTLPEndpoint:      strings.TrimSpace(cfg.OTLPEndpoint),
		OTLPProtocol:      strings.TrimSpace(cfg.OTLPProtocol),
		OtelSamplingRatio: cfg.OtelSamplingRatio,
	}
}

// verbose reports whether error logs should carry stack traces.
func (c Config) verbose() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
