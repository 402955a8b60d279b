// Package parser turns a single raw line of ab-av1 or mediainfo output into
// one of a closed set of typed events.
package parser

// Event is the interface implemented by every parsed output line.
type Event interface {
	Kind() string
}

// BaseEvent carries the event's kind tag, mirroring the line that produced it.
type BaseEvent struct {
	EventKind string
}

func (e BaseEvent) Kind() string { return e.EventKind }

const (
	KindEncodingSample = "encoding_sample"
	KindSampleVmaf     = "sample_vmaf"
	KindCandidateVmaf  = "candidate_vmaf"
	KindPredictedSize  = "predicted_size"
	KindProgress       = "progress"
	KindFileProgress   = "file_progress"
	KindSuccess        = "success"
	KindWarning        = "warning"
	KindFfmpegError    = "ffmpeg_error"
	KindFatalError     = "fatal_error"
	KindEncodingStart  = "encoding_start"
	KindVmafComparison = "vmaf_comparison"
	KindIgnore         = "ignore"
)

// EncodingSample is emitted while ab-av1 is probing a candidate CRF, before
// its VMAF score is known.
type EncodingSample struct {
	BaseEvent
	SampleNum    int
	TotalSamples int
	CRF          float64
}

// SampleVmaf is one sample's measured VMAF score for a candidate CRF.
type SampleVmaf struct {
	BaseEvent
	SampleNum    int
	TotalSamples int
	CRF          float64
	Score        float64
	Percent      int
}

// CandidateVmaf summarizes a fully-probed CRF (the dash-prefixed line).
type CandidateVmaf struct {
	BaseEvent
	CRF     float64
	Score   float64
	Percent int
}

// PredictedSize is the final candidate line, including the predicted output
// size and time taken to produce the sample.
type PredictedSize struct {
	BaseEvent
	CRF           float64
	Score         float64
	PredictedSize float64
	SizeUnit      string
	Percent       int
	TimeTaken     float64
	TimeUnit      string
}

// Progress reports percent/fps/eta of the current operation.
type Progress struct {
	BaseEvent
	Percent float64
	FPS     float64
	ETA     float64
	ETAUnit string
}

// FileProgress reports byte-level encode progress.
type FileProgress struct {
	BaseEvent
	Size    float64
	Unit    string
	Percent int
}

// Success announces the CRF search chose crf as its final answer.
type Success struct {
	BaseEvent
	CRF float64
}

// Warning is a non-fatal diagnostic line.
type Warning struct {
	BaseEvent
	Message string
}

// FfmpegError reports an ffmpeg child process failure surfaced by ab-av1.
type FfmpegError struct {
	BaseEvent
	ExitCode int
}

// FatalError is a structured ab-av1 failure line, including the exact
// "Error: Failed to find a suitable crf" string the CRF-search worker
// recognizes to trigger its target-lowering retry.
type FatalError struct {
	BaseEvent
	Message string
}

// EncodingStart announces the beginning of an encode operation.
type EncodingStart struct {
	BaseEvent
	Filename string
	VideoID  *uint
}

// VmafComparison is an informational line comparing two files; no side effect.
type VmafComparison struct {
	BaseEvent
	File1 string
	File2 string
}

// Ignore marks a line that matched none of the known patterns.
type Ignore struct {
	BaseEvent
	Line string
}
