package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// timestampPrefixRe strips an optional leading bracketed timestamp, e.g.
// "[12:34:56] crf 26 successful" -> "crf 26 successful".
var timestampPrefixRe = regexp.MustCompile(`^\[[^\]]*\]\s*`)

// cacheSuffixRe strips an optional trailing " (cache)" marker that ab-av1
// appends when a sample was served from its on-disk cache rather than
// freshly encoded.
var cacheSuffixRe = regexp.MustCompile(`\s*\(cache\)\s*$`)

// Ordered rules: more specific patterns are tried before their generalizations,
// per the contract (predicted-size before the dash-prefixed candidate,
// encoding-sample before generic progress).
var (
	predictedSizeRe = regexp.MustCompile(
		`^crf\s+([\d.]+)\s+VMAF\s+([\d.]+)\s+predicted video stream size\s+([\d.]+)\s*(\w+)\s+\((\d+)%\)\s+taking\s+([\d.]+)\s+(\w+)`)

	sampleVmafRe = regexp.MustCompile(
		`^sample\s+(\d+)/(\d+)\s+crf\s+([\d.]+)\s+VMAF\s+([\d.]+)\s+\((\d+)%\)`)

	encodingSampleRe = regexp.MustCompile(
		`^[Ee]ncoding sample\s+(\d+)/(\d+)\s+crf\s+([\d.]+)\s*$`)

	candidateVmafRe = regexp.MustCompile(
		`^-\s*crf\s+([\d.]+)\s+VMAF\s+([\d.]+)\s+\((\d+)%\)`)

	successRe = regexp.MustCompile(`^crf\s+([\d.]+)\s+successful\s*$`)

	fatalFindCrfRe = regexp.MustCompile(`^Error:\s*Failed to find a suitable crf\s*$`)
	fatalErrorRe   = regexp.MustCompile(`^Error:\s*(.+)$`)

	ffmpegErrorRe = regexp.MustCompile(`^ffmpeg (?:encode|error)\D*exit code:?\s*(-?\d+)`)

	warningRe = regexp.MustCompile(`^[Ww]arning:?\s*(.+)$`)

	progressRe = regexp.MustCompile(
		`^[Pp]rogress\s+([\d.]+)%\s+fps\s+([\d.]+)\s+eta\s+([\d.]+)\s+(\w+)`)

	fileProgressRe = regexp.MustCompile(
		`^([\d.]+)\s*(B|KB|MB|GB|TB|KiB|MiB|GiB)\s+\((\d+)%\)\s*$`)

	encodingStartRe = regexp.MustCompile(`^[Ee]ncoding\s+(\S+)\s*$`)

	vmafComparisonRe = regexp.MustCompile(`^[Cc]omparing\s+(\S+)\s+(?:to|with|and)\s+(\S+)\s*$`)
)

// Parse maps a single raw output line to its typed event. Total: every input
// yields some Event, falling back to Ignore when nothing matches.
func Parse(line string) Event {
	trimmed := timestampPrefixRe.ReplaceAllString(line, "")
	trimmed = cacheSuffixRe.ReplaceAllString(trimmed, "")
	trimmed = strings.TrimSpace(trimmed)

	if m := predictedSizeRe.FindStringSubmatch(trimmed); m != nil {
		return PredictedSize{
			BaseEvent:     BaseEvent{KindPredictedSize},
			CRF:           parseFloat(m[1]),
			Score:         parseFloat(m[2]),
			PredictedSize: parseFloat(m[3]),
			SizeUnit:      m[4],
			Percent:       parseInt(m[5]),
			TimeTaken:     parseFloat(m[6]),
			TimeUnit:      m[7],
		}
	}

	if m := sampleVmafRe.FindStringSubmatch(trimmed); m != nil {
		return SampleVmaf{
			BaseEvent:    BaseEvent{KindSampleVmaf},
			SampleNum:    parseInt(m[1]),
			TotalSamples: parseInt(m[2]),
			CRF:          parseFloat(m[3]),
			Score:        parseFloat(m[4]),
			Percent:      parseInt(m[5]),
		}
	}

	if m := encodingSampleRe.FindStringSubmatch(trimmed); m != nil {
		return EncodingSample{
			BaseEvent:    BaseEvent{KindEncodingSample},
			SampleNum:    parseInt(m[1]),
			TotalSamples: parseInt(m[2]),
			CRF:          parseFloat(m[3]),
		}
	}

	if m := candidateVmafRe.FindStringSubmatch(trimmed); m != nil {
		return CandidateVmaf{
			BaseEvent: BaseEvent{KindCandidateVmaf},
			CRF:       parseFloat(m[1]),
			Score:     parseFloat(m[2]),
			Percent:   parseInt(m[3]),
		}
	}

	if m := successRe.FindStringSubmatch(trimmed); m != nil {
		return Success{BaseEvent: BaseEvent{KindSuccess}, CRF: parseFloat(m[1])}
	}

	if fatalFindCrfRe.MatchString(trimmed) {
		return FatalError{BaseEvent: BaseEvent{KindFatalError}, Message: trimmed}
	}

	if m := ffmpegErrorRe.FindStringSubmatch(trimmed); m != nil {
		return FfmpegError{BaseEvent: BaseEvent{KindFfmpegError}, ExitCode: parseInt(m[1])}
	}

	if m := fatalErrorRe.FindStringSubmatch(trimmed); m != nil {
		return FatalError{BaseEvent: BaseEvent{KindFatalError}, Message: m[1]}
	}

	if m := warningRe.FindStringSubmatch(trimmed); m != nil {
		return Warning{BaseEvent: BaseEvent{KindWarning}, Message: m[1]}
	}

	if m := progressRe.FindStringSubmatch(trimmed); m != nil {
		return Progress{
			BaseEvent: BaseEvent{KindProgress},
			Percent:   parseFloat(m[1]),
			FPS:       parseFloat(m[2]),
			ETA:       parseFloat(m[3]),
			ETAUnit:   m[4],
		}
	}

	if m := fileProgressRe.FindStringSubmatch(trimmed); m != nil {
		return FileProgress{
			BaseEvent: BaseEvent{KindFileProgress},
			Size:      parseFloat(m[1]),
			Unit:      m[2],
			Percent:   parseInt(m[3]),
		}
	}

	if m := vmafComparisonRe.FindStringSubmatch(trimmed); m != nil {
		return VmafComparison{BaseEvent: BaseEvent{KindVmafComparison}, File1: m[1], File2: m[2]}
	}

	if m := encodingStartRe.FindStringSubmatch(trimmed); m != nil {
		return EncodingStart{BaseEvent: BaseEvent{KindEncodingStart}, Filename: m[1]}
	}

	return Ignore{BaseEvent: BaseEvent{KindIgnore}, Line: trimmed}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
