package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	cmd := NewSafeCommand("true")
	cmd.Stderr.WriteString("Traceback: model missing")

	writeError(&buf, "Detector crashed", errors.New("broken pipe"), cmd)

	out := buf.String()
	for _, want := range []string{"PIXELCLOAK ERROR: Detector crashed", "DETAILS: broken pipe", "DETECTOR CRASH LOGS", "model missing"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteError_NoCommand(t *testing.T) {
	var buf bytes.Buffer
	writeError(&buf, "Bad flag", nil, nil)
	if strings.Contains(buf.String(), "DETAILS") || strings.Contains(buf.String(), "CRASH LOGS") {
		t.Errorf("unexpected sections in %q", buf.String())
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	cmd := NewSafeCommand("sh", "-c", "echo boom >&2; exit 3")
	if err := cmd.Run(); err == nil {
		t.Fatal("expected a non-zero exit")
	}
	if got := strings.TrimSpace(cmd.Stderr.String()); got != "boom" {
		t.Errorf("captured stderr = %q, want %q", got, "boom")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		wantDebug bool
	}{
		{"info level drops debug", false, false},
		{"debug level keeps debug", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewLogger(&buf, tt.debug, true)
			log.Debug().Msg("hidden")
			log.Info().Int("rounds", 3).Msg("done")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			wantLines := 1
			if tt.wantDebug {
				wantLines = 2
			}
			if len(lines) != wantLines {
				t.Fatalf("got %d lines, want %d: %q", len(lines), wantLines, buf.String())
			}

			var entry map[string]any
			if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
				t.Fatalf("json output not parseable: %v", err)
			}
			if entry["message"] != "done" || entry["rounds"] != float64(3) {
				t.Errorf("unexpected entry %v", entry)
			}
		})
	}
}
