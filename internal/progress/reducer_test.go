package progress

import (
	"fmt"
	"strings"
	"testing"

	"github.com/lyallcooper/kitaabse/internal/sse"
	"github.com/lyallcooper/kitaabse/internal/types"
)

func event(t *testing.T, typ, data string) sse.Event {
	t.Helper()
	ev, err := sse.DecodeEvent(sse.Frame{Event: typ, Data: data})
	if err != nil {
		t.Fatalf("DecodeEvent(%s, %s) error = %v", typ, data, err)
	}
	return ev
}

func TestReduce_Percentages(t *testing.T) {
	tests := []struct {
		name      string
		typ       string
		data      string
		wantStage types.UploadStage
		wantPct   int
		wantCur   int
		wantTotal int
		wantStats bool
	}{
		{"status", "status", `{"message":"Validating"}`, types.StageUploading, 5, 0, 0, false},
		{"processing started", "processing_started", `{"total_pages":10}`, types.StageExtractingText, 10, 0, 10, false},
		{"text first page", "text_progress", `{"current_page":1,"total_pages":4}`, types.StageExtractingText, 20, 1, 4, false},
		{"text halfway", "text_progress", `{"current_page":5,"total_pages":10}`, types.StageExtractingText, 30, 5, 10, false},
		{"text done", "text_progress", `{"current_page":3,"total_pages":3}`, types.StageExtractingText, 50, 3, 3, false},
		{"text rounds", "text_progress", `{"current_page":1,"total_pages":3}`, types.StageExtractingText, 23, 1, 3, false},
		{"text zero total", "text_progress", `{"current_page":0,"total_pages":0}`, types.StageExtractingText, 10, 0, 0, false},
		{"text past total clamps", "text_progress", `{"current_page":9,"total_pages":3}`, types.StageExtractingText, 50, 9, 3, false},
		{"audio started", "audio_started", `{"total_pages":4}`, types.StageGeneratingAudio, 50, 0, 4, true},
		{"audio first page", "audio_progress", `{"current_page":1,"total_pages":4,"status":"generating"}`, types.StageGeneratingAudio, 63, 1, 4, true},
		{"audio zero total", "audio_progress", `{"current_page":1,"total_pages":0,"status":"generating"}`, types.StageGeneratingAudio, 50, 1, 0, true},
		{"audio done", "audio_progress", `{"current_page":4,"total_pages":4,"status":"completed"}`, types.StageGeneratingAudio, 100, 4, 4, true},
		{"completed without audio", "completed", `{"book_id":1,"total_pages":4}`, types.StageCompleted, 100, 4, 4, false},
		{"completed with audio counts", "completed", `{"book_id":1,"total_pages":4,"audio_generated":4}`, types.StageCompleted, 100, 4, 4, true},
		{"error", "error", `{"error":"OCR failed"}`, types.StageError, 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Reduce(event(t, tt.typ, tt.data), NewTally())
			if !ok {
				t.Fatalf("Reduce(%s) ok = false", tt.typ)
			}
			if got.Status != tt.wantStage {
				t.Errorf("Status = %q, want %q", got.Status, tt.wantStage)
			}
			if got.Progress != tt.wantPct {
				t.Errorf("Progress = %d, want %d", got.Progress, tt.wantPct)
			}
			if got.CurrentPage != tt.wantCur || got.TotalPages != tt.wantTotal {
				t.Errorf("pages = %d/%d, want %d/%d", got.CurrentPage, got.TotalPages, tt.wantCur, tt.wantTotal)
			}
			if (got.AudioStats != nil) != tt.wantStats {
				t.Errorf("AudioStats = %+v, want present=%v", got.AudioStats, tt.wantStats)
			}
			if got.Stage == nil || got.Stage.Name == "" {
				t.Errorf("Stage = %+v, want a named stage", got.Stage)
			}
		})
	}
}

func TestReduce_AudioTally(t *testing.T) {
	tally := NewTally()
	Reduce(event(t, "processing_started", `{"total_pages":5}`), tally)
	Reduce(event(t, "audio_started", `{"total_pages":5}`), tally)

	frames := []string{
		`{"current_page":1,"total_pages":5,"status":"generating"}`,
		`{"current_page":1,"total_pages":5,"status":"completed","duration":5}`,
		`{"current_page":2,"total_pages":5,"status":"skipped"}`,
		`{"current_page":3,"total_pages":5,"status":"failed"}`,
		`{"current_page":4,"total_pages":5,"status":"completed","duration":3}`,
	}
	var last types.UploadProgress
	for _, data := range frames {
		last, _ = Reduce(event(t, "audio_progress", data), tally)
	}

	s := last.AudioStats
	if s == nil {
		t.Fatal("AudioStats = nil")
	}
	if s.Generated != 2 || s.Failed != 1 || s.Skipped != 1 || s.Duration() != 8 {
		t.Errorf("AudioStats = %+v (duration %v), want generated=2 failed=1 skipped=1 duration=8", s, s.Duration())
	}
}

func TestReduce_SnapshotsAreIndependent(t *testing.T) {
	tally := NewTally()
	first, _ := Reduce(event(t, "audio_progress", `{"current_page":1,"total_pages":2,"status":"completed","duration":2}`), tally)
	Reduce(event(t, "audio_progress", `{"current_page":2,"total_pages":2,"status":"completed","duration":2}`), tally)

	if first.AudioStats.Generated != 1 || first.AudioStats.Duration() != 2 {
		t.Errorf("earlier snapshot mutated: %+v", first.AudioStats)
	}
}

func TestReduce_ProcessingStartedResetsTally(t *testing.T) {
	tally := NewTally()
	Reduce(event(t, "audio_progress", `{"current_page":1,"total_pages":1,"status":"failed"}`), tally)
	Reduce(event(t, "processing_started", `{"total_pages":1}`), tally)

	got, _ := Reduce(event(t, "audio_started", `{"total_pages":1}`), tally)
	if got.AudioStats.Failed != 0 || got.AudioStats.Generated != 0 || got.AudioStats.Duration() != 0 {
		t.Errorf("AudioStats after reset = %+v, want zeroed", got.AudioStats)
	}
}

func TestReduce_OutOfOrderAppliedAsReceived(t *testing.T) {
	tally := NewTally()
	got, _ := Reduce(event(t, "audio_progress", `{"current_page":3,"total_pages":4,"status":"completed","duration":1}`), tally)
	if got.Progress != 88 {
		t.Errorf("Progress = %d, want 88", got.Progress)
	}
	got, _ = Reduce(event(t, "text_progress", `{"current_page":1,"total_pages":4}`), tally)
	if got.Progress != 20 || got.Status != types.StageExtractingText {
		t.Errorf("regressed snapshot = %d/%s, want 20/extracting_text", got.Progress, got.Status)
	}
}

func TestReduce_UnknownEvent(t *testing.T) {
	tally := NewTally()
	if _, ok := Reduce(event(t, "heartbeat", `{}`), tally); ok {
		t.Error("Reduce(heartbeat) ok = true, want false")
	}
	if *tally != (Tally{}) {
		t.Errorf("tally changed by unknown event: %+v", tally)
	}
}

func TestReduce_ErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"error field", `{"error":"Invalid PDF","details":"header missing"}`, "Invalid PDF"},
		{"details only", `{"details":"header missing"}`, "header missing"},
		{"neither", `{}`, "Upload failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Reduce(event(t, "error", tt.data), NewTally())
			if got.Message != tt.want {
				t.Errorf("Message = %q, want %q", got.Message, tt.want)
			}
		})
	}
}

func TestReduce_ErrorCarriesStatsOnceAudioStarted(t *testing.T) {
	tally := NewTally()
	Reduce(event(t, "audio_started", `{"total_pages":2}`), tally)
	Reduce(event(t, "audio_progress", `{"current_page":1,"total_pages":2,"status":"completed","duration":3}`), tally)

	got, _ := Reduce(event(t, "error", `{"error":"TTS quota exceeded"}`), tally)
	if got.AudioStats == nil || got.AudioStats.Generated != 1 {
		t.Errorf("AudioStats = %+v, want generated=1", got.AudioStats)
	}
}

func TestReduce_CompletedMessage(t *testing.T) {
	t.Run("payload values", func(t *testing.T) {
		got, _ := Reduce(event(t, "completed", `{"audio_generated":3,"total_duration":125}`), NewTally())
		if !strings.Contains(got.Message, "3 pages") || !strings.Contains(got.Message, "2m05s") {
			t.Errorf("Message = %q, want page count and duration", got.Message)
		}
		if got.AudioStats.Generated != 3 || got.AudioStats.Duration() != 125 {
			t.Errorf("AudioStats = %+v, want generated=3 duration=125", got.AudioStats)
		}
	})

	t.Run("falls back to tally", func(t *testing.T) {
		tally := NewTally()
		Reduce(event(t, "audio_progress", `{"current_page":1,"total_pages":2,"status":"completed","duration":7}`), tally)
		Reduce(event(t, "audio_progress", `{"current_page":2,"total_pages":2,"status":"failed"}`), tally)

		got, _ := Reduce(event(t, "completed", `{"book_id":9}`), tally)
		if !strings.Contains(got.Message, "1 page ") || !strings.Contains(got.Message, "7s") {
			t.Errorf("Message = %q, want tally values", got.Message)
		}
		if got.AudioStats.Failed != 1 {
			t.Errorf("Failed = %d, want 1", got.AudioStats.Failed)
		}
	})
}

func TestCompletionMessage(t *testing.T) {
	tests := []struct {
		generated int
		seconds   float64
		want      string
	}{
		{1, 0, "Upload complete! Generated audio for 1 page"},
		{1, 7, "Upload complete! Generated audio for 1 page (7s total)"},
		{0, 0, "Upload complete! Generated audio for 0 pages"},
		{3, 125, "Upload complete! Generated audio for 3 pages (2m05s total)"},
	}
	for _, tt := range tests {
		if got := CompletionMessage(tt.generated, tt.seconds); got != tt.want {
			t.Errorf("CompletionMessage(%d, %v) = %q, want %q", tt.generated, tt.seconds, got, tt.want)
		}
	}
}

func TestReduce_CompletedStatsOnlyAfterAudio(t *testing.T) {
	tally := NewTally()
	Reduce(event(t, "processing_started", `{"total_pages":2}`), tally)
	Reduce(event(t, "text_progress", `{"current_page":2,"total_pages":2}`), tally)

	got, _ := Reduce(event(t, "completed", `{"book_id":3,"total_pages":2}`), tally)
	if got.AudioStats != nil {
		t.Errorf("AudioStats = %+v, want nil before any audio event", got.AudioStats)
	}

	Reduce(event(t, "audio_started", `{"total_pages":2}`), tally)
	got, _ = Reduce(event(t, "completed", `{"book_id":3,"total_pages":2}`), tally)
	if got.AudioStats == nil || got.AudioStats.Generated != 0 {
		t.Errorf("AudioStats = %+v, want zeroed stats after audio_started", got.AudioStats)
	}
}

func TestReduce_StagePercentMonotonic(t *testing.T) {
	stages := []struct {
		typ    string
		status string
		lo, hi int
	}{
		{"text_progress", "", 10, 50},
		{"audio_progress", `,"status":"completed"`, 50, 100},
	}
	for _, st := range stages {
		for _, total := range []int{1, 3, 7, 100} {
			t.Run(fmt.Sprintf("%s/%d", st.typ, total), func(t *testing.T) {
				tally := NewTally()
				prev := st.lo
				for cur := 1; cur <= total; cur++ {
					data := fmt.Sprintf(`{"current_page":%d,"total_pages":%d%s}`, cur, total, st.status)
					got, _ := Reduce(event(t, st.typ, data), tally)
					if got.Progress < prev {
						t.Errorf("page %d: Progress = %d, dropped below %d", cur, got.Progress, prev)
					}
					if got.Progress < st.lo || got.Progress > st.hi {
						t.Errorf("page %d: Progress = %d, outside [%d, %d]", cur, got.Progress, st.lo, st.hi)
					}
					prev = got.Progress
				}
				if prev != st.hi {
					t.Errorf("last page Progress = %d, want %d", prev, st.hi)
				}
			})
		}
	}
}

func TestStagePercent(t *testing.T) {
	tests := []struct {
		current, total, base, span int
		want                       int
	}{
		{0, 0, 10, 40, 10},
		{1, 2, 10, 40, 30},
		{2, 3, 50, 50, 83},
		{-1, 5, 10, 40, 10},
		{1, 8, 0, 100, 13},
	}
	for _, tt := range tests {
		if got := StagePercent(tt.current, tt.total, tt.base, tt.span); got != tt.want {
			t.Errorf("StagePercent(%d, %d, %d, %d) = %d, want %d", tt.current, tt.total, tt.base, tt.span, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0s"},
		{12.4, "12s"},
		{65, "1m05s"},
		{3723, "1h02m03s"},
		{-4, "0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
