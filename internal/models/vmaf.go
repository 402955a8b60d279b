package models

// Vmaf is one CRF-search trial result for a Video: a candidate CRF value,
// the measured VMAF score at that CRF, and the projected output size/time.
// A Video accumulates one Vmaf row per trial; MarkCRFSearched on the Video
// records which one was chosen.
type Vmaf struct {
	BaseModel

	VideoID uint `gorm:"index;not null" json:"video_id"`

	CRF   float64 `json:"crf"`
	Score float64 `json:"score"`

	// Target is the VMAF floor this trial was searched against. The retry
	// cascade can lower the target between attempts, so it is recorded
	// per-row rather than assumed constant for the whole search.
	Target int `json:"target"`

	// Percent is the predicted output size as a percentage of the input
	// size, as reported by ab-av1 for this trial.
	Percent int `json:"percent"`

	// Params holds the ab-av1 argv shared by this search invocation
	// (excluding --min-vmaf and the crf-search subcommand, which vary per
	// attempt/target), recorded for operator inspection of how a trial was
	// produced.
	Params StringList `gorm:"type:text" json:"params"`

	PredictedSize *int64   `json:"predicted_size,omitempty"`
	PredictedTime *float64 `json:"predicted_time_seconds,omitempty"`

	// Savings is how many bytes choosing this trial would save relative to
	// the source video's size: max(0, (100-Percent)/100 * video.Size).
	Savings *int64 `json:"savings,omitempty"`

	Chosen bool `gorm:"index" json:"chosen"`
}
