package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewWithWriter_Levels(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		wantDebug bool
	}{
		{name: "通常", verbose: false, wantDebug: false},
		{name: "詳細", verbose: true, wantDebug: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewWithWriter(&buf, tt.verbose)

			log.Debug("debug message")
			log.Info("info message", zap.String("url", "https://example.com"))

			out := buf.String()
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug message")))
			assert.Contains(t, out, "INFO")
			assert.Contains(t, out, "info message")
			assert.Contains(t, out, `"url": "https://example.com"`)
		})
	}
}
