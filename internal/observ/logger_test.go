package observ

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		opts    LoggerOptions
		wantErr bool
	}{
		{"production", LoggerOptions{Service: "server", Node: "n1", Env: "production", Level: "warn"}, false},
		{"development default level", LoggerOptions{Env: "development"}, false},
		{"unknown level", LoggerOptions{Env: "development", Level: "chatty"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				logger.Info("hello")
			}
		})
	}
}

func TestNewLoggerLevel(t *testing.T) {
	logger, err := NewLogger(LoggerOptions{Env: "production", Level: "error"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug enabled at error level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("error disabled at error level")
	}
}
