package render

import "fmt"

// Stage is one state of the render pipeline.
type Stage int

// Pipeline stages in execution order. StageDone and StageFailed are terminal.
const (
	StageLaunching Stage = iota
	StageNavigatingToSource
	StageWaitingForReadySignal
	StageMeasuringContent
	StageRecapturingViewport
	StageCapturingImage
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageLaunching:             "Launching",
	StageNavigatingToSource:    "NavigatingToSource",
	StageWaitingForReadySignal: "WaitingForReadySignal",
	StageMeasuringContent:      "MeasuringContent",
	StageRecapturingViewport:   "RecapturingViewport",
	StageCapturingImage:        "CapturingImage",
	StageDone:                  "Done",
	StageFailed:                "Failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// StageError is the reason carried by the Failed state.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("render failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
