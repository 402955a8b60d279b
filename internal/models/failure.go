package models

// FailureRecord captures one non-retryable (or not-yet-retried) failure
// raised by a stage worker for a Video, per §4.4/§7. Context carries
// arbitrary diagnostic key/value pairs (e.g. "stage", "exit_code",
// "stderr_tail") that vary by failure site.
type FailureRecord struct {
	BaseModel

	VideoID uint   `gorm:"index;not null" json:"video_id"`
	Stage   string `gorm:"index;not null" json:"stage"`
	Reason  string `gorm:"not null" json:"reason"`

	Context ContextMap `gorm:"type:text" json:"context"`
}

// Failure stages, used as FailureRecord.Stage values.
const (
	StageAnalyze   = "analysis"
	StageCRFSearch = "crf_search"
	StageEncode    = "encode"
)
