package progress

import (
	"fmt"
	"math"

	"github.com/lyallcooper/kitaabse/internal/sse"
	"github.com/lyallcooper/kitaabse/internal/types"
)

// Overall percentage bands per stage
const (
	percentUploading        = 5
	percentTextStart        = 10
	percentTextSpan         = 40
	percentAudioStart       = 50
	percentAudioSpan        = 50
	percentCompleted        = 100
	percentError            = 0
	defaultErrorMessage     = "Upload failed"
	defaultUploadingMessage = "Uploading..."
)

// Reduce builds the snapshot for one event. The only state carried between
// events is tally, which processing_started resets and audio_progress updates.
// Returns false for event types outside the pipeline; those are dropped.
func Reduce(ev sse.Event, tally *Tally) (types.UploadProgress, bool) {
	switch p := ev.Payload.(type) {
	case sse.StatusPayload:
		return types.UploadProgress{
			Progress: percentUploading,
			Message:  orDefault(p.Message, defaultUploadingMessage),
			Status:   types.StageUploading,
			Stage:    &types.StageDetail{Name: "Uploading", Detail: p.Message},
		}, true

	case sse.ProcessingStartedPayload:
		tally.Reset()
		return types.UploadProgress{
			TotalPages: p.TotalPages,
			Progress:   percentTextStart,
			Message:    orDefault(p.Message, fmt.Sprintf("Extracting text from %d pages", p.TotalPages)),
			Status:     types.StageExtractingText,
			Stage: &types.StageDetail{
				Name:        "Extracting text",
				Detail:      fmt.Sprintf("0 of %d pages", p.TotalPages),
				SubProgress: intPtr(0),
			},
		}, true

	case sse.TextProgressPayload:
		return types.UploadProgress{
			CurrentPage: p.CurrentPage,
			TotalPages:  p.TotalPages,
			Progress:    StagePercent(p.CurrentPage, p.TotalPages, percentTextStart, percentTextSpan),
			Message:     orDefault(p.Message, fmt.Sprintf("Extracting text: page %d of %d", p.CurrentPage, p.TotalPages)),
			Status:      types.StageExtractingText,
			Stage: &types.StageDetail{
				Name:        "Extracting text",
				Detail:      fmt.Sprintf("Page %d of %d", p.CurrentPage, p.TotalPages),
				SubProgress: intPtr(StagePercent(p.CurrentPage, p.TotalPages, 0, 100)),
			},
		}, true

	case sse.AudioStartedPayload:
		tally.audioStarted = true
		return types.UploadProgress{
			TotalPages: p.TotalPages,
			Progress:   percentAudioStart,
			Message:    orDefault(p.Message, fmt.Sprintf("Generating audio for %d pages", p.TotalPages)),
			Status:     types.StageGeneratingAudio,
			Stage: &types.StageDetail{
				Name:        "Generating audio",
				Detail:      fmt.Sprintf("%d pages queued", p.TotalPages),
				SubProgress: intPtr(0),
			},
			AudioStats: tally.Stats(),
		}, true

	case sse.AudioProgressPayload:
		tally.audioStarted = true
		tally.Apply(p.Status, p.Duration)
		return types.UploadProgress{
			CurrentPage: p.CurrentPage,
			TotalPages:  p.TotalPages,
			Progress:    StagePercent(p.CurrentPage, p.TotalPages, percentAudioStart, percentAudioSpan),
			Message:     orDefault(p.Message, audioPageMessage(p)),
			Status:      types.StageGeneratingAudio,
			Stage: &types.StageDetail{
				Name:        "Generating audio",
				Detail:      fmt.Sprintf("Page %d of %d: %s", p.CurrentPage, p.TotalPages, orDefault(string(p.Status), "pending")),
				SubProgress: intPtr(StagePercent(p.CurrentPage, p.TotalPages, 0, 100)),
			},
			AudioStats: tally.Stats(),
		}, true

	case sse.CompletedPayload:
		stats := tally.Stats()
		if p.AudioGenerated != nil {
			stats.Generated = *p.AudioGenerated
		}
		if p.TotalDuration != nil {
			d := *p.TotalDuration
			stats.CurrentDuration = &d
		}
		snap := types.UploadProgress{
			CurrentPage: p.TotalPages,
			TotalPages:  p.TotalPages,
			Progress:    percentCompleted,
			Message:     CompletionMessage(stats.Generated, stats.Duration()),
			Status:      types.StageCompleted,
			Stage:       &types.StageDetail{Name: "Completed", Detail: p.Message, SubProgress: intPtr(100)},
		}
		// Stats exist only once audio generation was seen or reported
		if tally.audioStarted || p.AudioGenerated != nil || p.TotalDuration != nil {
			snap.AudioStats = stats
		}
		return snap, true

	case sse.ErrorPayload:
		msg := orDefault(p.Error, orDefault(p.Details, defaultErrorMessage))
		snap := types.UploadProgress{
			Progress: percentError,
			Message:  msg,
			Status:   types.StageError,
			Stage:    &types.StageDetail{Name: "Error", Detail: p.Details},
		}
		if tally.audioStarted {
			snap.AudioStats = tally.Stats()
		}
		return snap, true
	}

	return types.UploadProgress{}, false
}

// StagePercent maps current/total onto [base, base+span], rounding to the
// nearest integer. A zero total yields base.
func StagePercent(current, total, base, span int) int {
	if total <= 0 {
		return base
	}
	frac := float64(current) / float64(total)
	frac = math.Max(0, math.Min(1, frac))
	return base + int(math.Round(frac*float64(span)))
}

// CompletionMessage is the final status line of a successful upload
func CompletionMessage(generated int, seconds float64) string {
	pages := "pages"
	if generated == 1 {
		pages = "page"
	}
	if seconds <= 0 {
		return fmt.Sprintf("Upload complete! Generated audio for %d %s", generated, pages)
	}
	return fmt.Sprintf("Upload complete! Generated audio for %d %s (%s total)", generated, pages, FormatDuration(seconds))
}

// FormatDuration renders seconds as 1h02m03s / 4m05s / 12s
func FormatDuration(seconds float64) string {
	total := int(math.Round(seconds))
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, total%3600/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func audioPageMessage(p sse.AudioProgressPayload) string {
	switch p.Status {
	case sse.AudioPageCompleted:
		return fmt.Sprintf("Audio ready for page %d of %d", p.CurrentPage, p.TotalPages)
	case sse.AudioPageSkipped:
		return fmt.Sprintf("Skipped page %d of %d (no text)", p.CurrentPage, p.TotalPages)
	case sse.AudioPageFailed:
		return fmt.Sprintf("Audio failed for page %d of %d", p.CurrentPage, p.TotalPages)
	default:
		return fmt.Sprintf("Generating audio: page %d of %d", p.CurrentPage, p.TotalPages)
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func intPtr(n int) *int {
	return &n
}
