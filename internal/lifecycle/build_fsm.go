package lifecycle

import (
	"fmt"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

var buildTransitions = map[carrottypes.BuildStatus][]carrottypes.BuildStatus{
	carrottypes.BuildCreated: {
		carrottypes.BuildSubmitted,
		carrottypes.BuildFailed,
	},
	carrottypes.BuildSubmitted: {
		carrottypes.BuildRunning,
		carrottypes.BuildWaitingForQueueSpace,
		carrottypes.BuildSucceeded,
		carrottypes.BuildFailed,
		carrottypes.BuildAborting,
		carrottypes.BuildAborted,
	},
	carrottypes.BuildWaitingForQueueSpace: {
		carrottypes.BuildRunning,
		carrottypes.BuildSucceeded,
		carrottypes.BuildFailed,
		carrottypes.BuildAborting,
		carrottypes.BuildAborted,
	},
	carrottypes.BuildRunning: {
		carrottypes.BuildSucceeded,
		carrottypes.BuildFailed,
		carrottypes.BuildAborting,
		carrottypes.BuildAborted,
	},
	carrottypes.BuildAborting: {
		carrottypes.BuildAborted,
	},
	carrottypes.BuildSucceeded: {},
	carrottypes.BuildFailed:    {},
	carrottypes.BuildAborted:   {},
	carrottypes.BuildExpired:   {},
}

// terminalBuilds matches the teacher/build dedup definition of "active":
// a build not in one of these states is still a candidate to be joined by
// a concurrent run (spec §4.3).
var terminalBuilds = map[carrottypes.BuildStatus]bool{
	carrottypes.BuildSucceeded: true,
	carrottypes.BuildFailed:    true,
	carrottypes.BuildAborted:   true,
	carrottypes.BuildExpired:   true,
}

// CanTransitionBuild reports whether from -> to is a legal build transition.
func CanTransitionBuild(from, to carrottypes.BuildStatus) bool {
	if IsBuildTerminal(from) {
		return false
	}
	for _, s := range buildTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionBuild validates and returns the destination state.
func TransitionBuild(from, to carrottypes.BuildStatus) (carrottypes.BuildStatus, error) {
	if !CanTransitionBuild(from, to) {
		return from, fmt.Errorf("illegal build transition: %s -> %s", from, to)
	}
	return to, nil
}

// IsBuildTerminal reports whether a build has reached a terminal state.
func IsBuildTerminal(status carrottypes.BuildStatus) bool {
	return terminalBuilds[status]
}

// IsBuildActive is the complement of IsBuildTerminal, named for readability
// at call sites that implement the "at most one active build" invariant.
func IsBuildActive(status carrottypes.BuildStatus) bool {
	return !IsBuildTerminal(status)
}
