package observ

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerOptions names the process in every log line. Several server
// nodes and workers write to the same sink, so each line carries its
// service and node.
type LoggerOptions struct {
	Service string
	Node    string
	Env     string
	Level   string
}

// NewLogger builds a JSON logger in production and a console logger
// otherwise. An unknown level is an error rather than a silent fallback.
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	var config zap.Config
	if opts.Env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	config.Level = zap.NewAtomicLevelAt(level)

	fields := map[string]any{}
	if opts.Service != "" {
		fields["service"] = opts.Service
	}
	if opts.Node != "" {
		fields["node"] = opts.Node
	}
	config.InitialFields = fields

	return config.Build()
}
