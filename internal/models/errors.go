package models

import "errors"

// ErrInvalidTransition is returned when a state-machine precondition is not
// met. The caller's record is left unmutated.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrNoChosenVmaf is returned when an operation requires a chosen Vmaf to
// exist for a Video but none does.
var ErrNoChosenVmaf = errors.New("no chosen vmaf for video")
