package engine

import (
	"fmt"
	"strings"
)

// Mode is the execution mode requested by the caller. The engine resolves
// the request against the fleet's window counts into a concrete strategy,
// which may differ from what was asked for.
type Mode string

const (
	// ModeAuto lets the engine pick based on the enabled window count
	ModeAuto Mode = "auto"
	// ModeParallel runs every enabled window concurrently with staggered starts
	ModeParallel Mode = "parallel"
	// ModeSequential runs windows one at a time with barrier-framed handoffs
	ModeSequential Mode = "sequential"
	// ModeBatch runs windows in fixed-size chunks, chunks strictly in order
	ModeBatch Mode = "batch"
	// ModeSynchronized runs all windows in lockstep through shared sync points
	ModeSynchronized Mode = "synchronized"
	// ModeStreaming feeds windows through a bounded queue into rolling batches
	ModeStreaming Mode = "streaming"
)

// ParseMode converts a flag or config string into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "parallel":
		return ModeParallel, nil
	case "sequential", "serial":
		return ModeSequential, nil
	case "batch":
		return ModeBatch, nil
	case "synchronized", "sync":
		return ModeSynchronized, nil
	case "streaming", "stream":
		return ModeStreaming, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

// Strategy is the dispatch plan the engine actually selected for a run
type Strategy string

const (
	StrategySingle         Strategy = "single"
	StrategyParallel       Strategy = "parallel"
	StrategySequentialSafe Strategy = "sequential-safe"
	StrategyBatch          Strategy = "batch"
	StrategySynchronized   Strategy = "synchronized"
	StrategyStreaming      Strategy = "streaming"
)

// CompletionPolicy decides what happens when one window finishes while
// others are still running
type CompletionPolicy string

const (
	// WaitForAll lets every enabled window run to its own completion
	WaitForAll CompletionPolicy = "wait-all"
	// StopOnFirstCompletion stops the remaining windows through the stop
	// protocol once the first window lands
	StopOnFirstCompletion CompletionPolicy = "stop-on-first"
)

// autoBatchThreshold is the enabled-window count past which parallel and
// auto requests switch to batch dispatch.
const autoBatchThreshold = 10

// resolveStrategy maps a requested mode onto a concrete strategy.
//
// A single enabled window always runs as Single. Sequential and
// synchronized requests demote to parallel when more than one window is
// registered, unless force is set; the demoted return tells the caller to
// log the override. Fleets larger than autoBatchThreshold fall back to
// batch dispatch on the parallel path.
func resolveStrategy(registered, enabled int, mode Mode, force bool) (strategy Strategy, demoted bool) {
	if enabled <= 1 {
		return StrategySingle, false
	}
	switch mode {
	case ModeBatch:
		return StrategyBatch, false
	case ModeStreaming:
		return StrategyStreaming, false
	case ModeSequential:
		if force {
			return StrategySequentialSafe, false
		}
		return StrategyParallel, registered > 1
	case ModeSynchronized:
		if force {
			return StrategySynchronized, false
		}
		return StrategyParallel, registered > 1
	}
	if enabled > autoBatchThreshold {
		return StrategyBatch, false
	}
	return StrategyParallel, false
}
