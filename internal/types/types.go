package types

// UploadStage is the phase of the upload pipeline a snapshot belongs to
type UploadStage string

const (
	StageIdle            UploadStage = "idle"
	StageUploading       UploadStage = "uploading"
	StageExtractingText  UploadStage = "extracting_text"
	StageGeneratingAudio UploadStage = "generating_audio"
	StageCompleted       UploadStage = "completed"
	StageError           UploadStage = "error"
)

// IsTerminal reports whether no further snapshots are expected after this stage.
func (s UploadStage) IsTerminal() bool {
	return s == StageCompleted || s == StageError
}

// UploadProgress is one immutable progress snapshot handed to the presentation layer
type UploadProgress struct {
	CurrentPage int          `json:"currentPage"`
	TotalPages  int          `json:"totalPages"`
	Progress    int          `json:"progress"` // 0-100 overall
	Message     string       `json:"message"`
	Status      UploadStage  `json:"status"`
	Stage       *StageDetail `json:"stage,omitempty"`
	AudioStats  *AudioStats  `json:"audioStats,omitempty"`
}

// StageDetail carries presentation detail for the active stage.
// SubProgress is independent of the overall Progress field.
type StageDetail struct {
	Name        string `json:"name"`
	Detail      string `json:"detail,omitempty"`
	SubProgress *int   `json:"subProgress,omitempty"`
}

// AudioStats is the cumulative audio generation tally for one upload
type AudioStats struct {
	Generated       int      `json:"generated"`
	Failed          int      `json:"failed"`
	Skipped         int      `json:"skipped"`
	CurrentDuration *float64 `json:"currentDuration,omitempty"` // seconds
}

// Duration returns CurrentDuration or 0 when unset.
func (a *AudioStats) Duration() float64 {
	if a == nil || a.CurrentDuration == nil {
		return 0
	}
	return *a.CurrentDuration
}
