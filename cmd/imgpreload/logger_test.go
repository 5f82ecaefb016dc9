package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		wantJSON bool
	}{
		{"json", "json", true},
		{"text", "text", false},
		// a buffer is not a terminal
		{"auto", "auto", true},
		{"empty means auto", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(tt.format, &buf)
			if err != nil {
				t.Fatalf("newLogger(%q) error = %v", tt.format, err)
			}

			logger.Info("preload completed", "successful", 2)

			line := strings.TrimSpace(buf.String())
			var entry map[string]any
			isJSON := json.Unmarshal([]byte(line), &entry) == nil
			if isJSON != tt.wantJSON {
				t.Fatalf("JSON output = %v, want %v: %q", isJSON, tt.wantJSON, line)
			}
			if !strings.Contains(line, "preload completed") || !strings.Contains(line, "successful") {
				t.Errorf("log line = %q, missing message or attribute", line)
			}
		})
	}
}

func TestNewLogger_UnknownFormat(t *testing.T) {
	if _, err := newLogger("xml", &bytes.Buffer{}); err == nil {
		t.Error("newLogger(xml) expected error, got nil")
	}
}
