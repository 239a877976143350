package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lyallcooper/kitaabse/internal/types"
)

func TestRenderer_Plain(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, false)

	snap := types.UploadProgress{
		Progress: 30,
		Message:  "Extracting text: page 5 of 10",
		Status:   types.StageExtractingText,
		Stage:    &types.StageDetail{Name: "Extracting text", Detail: "Page 5 of 10"},
	}
	r.Progress(snap)
	r.Progress(snap) // unchanged lines are not repeated
	r.Progress(types.UploadProgress{Progress: 100, Message: "Done"})
	r.Done()

	want := "[ 30%] Extracting text (Page 5 of 10): Extracting text: page 5 of 10\n[100%] Done\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestRenderer_Terminal(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, true)

	r.Progress(types.UploadProgress{Progress: 42, Message: "Generating audio"})
	r.Done()

	out := buf.String()
	if !strings.HasPrefix(out, "\r\033[K") {
		t.Errorf("output %q does not redraw the line", out)
	}
	if !strings.Contains(out, "42%") || !strings.Contains(out, "Generating audio") {
		t.Errorf("output %q missing percentage or message", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("Done() did not end the line: %q", out)
	}
}

func TestSummary(t *testing.T) {
	d := 125.0
	tests := []struct {
		name string
		snap types.UploadProgress
		want string
	}{
		{"no stats", types.UploadProgress{}, ""},
		{"with duration", types.UploadProgress{AudioStats: &types.AudioStats{Generated: 3, Failed: 1, CurrentDuration: &d}},
			"Audio: 3 generated, 1 failed, 0 skipped, 2m05s total"},
		{"without duration", types.UploadProgress{AudioStats: &types.AudioStats{Skipped: 2}},
			"Audio: 0 generated, 0 failed, 2 skipped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summary(tt.snap); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}
