// Package lifecycle implements the run and software_build state machines.
// Both are exhaustive map-based transition tables, generalized from the
// teacher's internal/lifecycle/fsm.go CanTransition/Transition/IsTerminal
// shape to the 21-state run FSM and the independent build FSM of SPEC_FULL.md §4.1.
package lifecycle

import (
	"fmt"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

var runTransitions = map[carrottypes.RunStatus][]carrottypes.RunStatus{
	carrottypes.RunCreated: {
		carrottypes.RunBuilding,
		carrottypes.RunTestSubmitted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunBuilding: {
		carrottypes.RunTestSubmitted,
		carrottypes.RunBuildFailed,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunTestSubmitted: {
		carrottypes.RunTestQueuedInCromwell,
		carrottypes.RunTestStarting,
		carrottypes.RunTestRunning,
		carrottypes.RunTestWaitingForQueueSpace,
		carrottypes.RunTestFailed,
		carrottypes.RunTestAborting,
		carrottypes.RunTestAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunTestQueuedInCromwell: {
		carrottypes.RunTestStarting,
		carrottypes.RunTestRunning,
		carrottypes.RunTestWaitingForQueueSpace,
		carrottypes.RunTestFailed,
		carrottypes.RunTestAborting,
		carrottypes.RunTestAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunTestStarting: {
		carrottypes.RunTestRunning,
		carrottypes.RunTestWaitingForQueueSpace,
		carrottypes.RunTestFailed,
		carrottypes.RunTestAborting,
		carrottypes.RunTestAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunTestRunning: {
		carrottypes.RunTestWaitingForQueueSpace,
		carrottypes.RunEvalSubmitted,
		carrottypes.RunTestFailed,
		carrottypes.RunTestAborting,
		carrottypes.RunTestAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunTestWaitingForQueueSpace: {
		carrottypes.RunTestStarting,
		carrottypes.RunTestRunning,
		carrottypes.RunEvalSubmitted,
		carrottypes.RunTestFailed,
		carrottypes.RunTestAborting,
		carrottypes.RunTestAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunTestAborting: {
		carrottypes.RunTestAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunTestFailed:  {},
	carrottypes.RunTestAborted: {},

	carrottypes.RunEvalSubmitted: {
		carrottypes.RunEvalQueuedInCromwell,
		carrottypes.RunEvalStarting,
		carrottypes.RunEvalRunning,
		carrottypes.RunEvalWaitingForQueueSpace,
		carrottypes.RunEvalFailed,
		carrottypes.RunEvalAborting,
		carrottypes.RunEvalAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunEvalQueuedInCromwell: {
		carrottypes.RunEvalStarting,
		carrottypes.RunEvalRunning,
		carrottypes.RunEvalWaitingForQueueSpace,
		carrottypes.RunEvalFailed,
		carrottypes.RunEvalAborting,
		carrottypes.RunEvalAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunEvalStarting: {
		carrottypes.RunEvalRunning,
		carrottypes.RunEvalWaitingForQueueSpace,
		carrottypes.RunEvalFailed,
		carrottypes.RunEvalAborting,
		carrottypes.RunEvalAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunEvalRunning: {
		carrottypes.RunEvalWaitingForQueueSpace,
		carrottypes.RunSucceeded,
		carrottypes.RunEvalFailed,
		carrottypes.RunEvalAborting,
		carrottypes.RunEvalAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunEvalWaitingForQueueSpace: {
		carrottypes.RunEvalStarting,
		carrottypes.RunEvalRunning,
		carrottypes.RunSucceeded,
		carrottypes.RunEvalFailed,
		carrottypes.RunEvalAborting,
		carrottypes.RunEvalAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunEvalAborting: {
		carrottypes.RunEvalAborted,
		carrottypes.RunCarrotFailed,
	},
	carrottypes.RunEvalFailed:  {},
	carrottypes.RunEvalAborted: {},

	carrottypes.RunBuildFailed:  {},
	carrottypes.RunCarrotFailed: {},
	carrottypes.RunSucceeded:    {},
}

// rank gives each state a monotonically increasing position along its
// phase's happy path, used to enforce "no back-edges" (spec invariant 1,
// testable property 1) — a transition is only legal if it is both in the
// adjacency table above AND does not move to a strictly earlier rank
// within the same phase chain. Terminal and cross-phase states are exempt
// since the adjacency table alone is exhaustive for those.
var rank = map[carrottypes.RunStatus]int{
	carrottypes.RunCreated:  0,
	carrottypes.RunBuilding: 1,

	carrottypes.RunTestSubmitted:               2,
	carrottypes.RunTestQueuedInCromwell:        3,
	carrottypes.RunTestStarting:                4,
	carrottypes.RunTestWaitingForQueueSpace:     4,
	carrottypes.RunTestRunning:                  5,
	carrottypes.RunTestAborting:                 6,

	carrottypes.RunEvalSubmitted:               7,
	carrottypes.RunEvalQueuedInCromwell:        8,
	carrottypes.RunEvalStarting:                9,
	carrottypes.RunEvalWaitingForQueueSpace:     9,
	carrottypes.RunEvalRunning:                  10,
	carrottypes.RunEvalAborting:                 11,
}

// terminalRuns is T in spec §4.1.
var terminalRuns = map[carrottypes.RunStatus]bool{
	carrottypes.RunSucceeded:    true,
	carrottypes.RunTestFailed:   true,
	carrottypes.RunEvalFailed:   true,
	carrottypes.RunBuildFailed:  true,
	carrottypes.RunCarrotFailed: true,
	carrottypes.RunTestAborted:  true,
	carrottypes.RunEvalAborted:  true,
}

// CanTransition reports whether from -> to is a legal run transition.
func CanTransition(from, to carrottypes.RunStatus) bool {
	if IsTerminal(from) {
		return false
	}
	allowed, ok := runTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return !isBackEdge(from, to)
		}
	}
	return false
}

// isBackEdge reports whether to moves to a strictly earlier rank than from
// within the same phase's happy-path chain. carrot_failed, build_failed and
// any cross-phase jump (e.g. test_running -> eval_submitted) are never
// considered back-edges here since they are not comparable ranks of the
// same forward chain.
func isBackEdge(from, to carrottypes.RunStatus) bool {
	fr, fok := rank[from]
	tr, tok := rank[to]
	if !fok || !tok {
		return false
	}
	return tr < fr
}

// Transition validates and returns the destination state, or an error
// naming the illegal transition.
func Transition(from, to carrottypes.RunStatus) (carrottypes.RunStatus, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("illegal run transition: %s -> %s", from, to)
	}
	return to, nil
}

// IsTerminal reports whether status is a member of T.
func IsTerminal(status carrottypes.RunStatus) bool {
	return terminalRuns[status]
}

// allRunStatuses enumerates every state in the run FSM (spec §4.1); kept in
// sync with the carrottypes.RunStatus const block.
var allRunStatuses = []carrottypes.RunStatus{
	carrottypes.RunCreated, carrottypes.RunBuilding,
	carrottypes.RunTestSubmitted, carrottypes.RunTestQueuedInCromwell, carrottypes.RunTestStarting,
	carrottypes.RunTestRunning, carrottypes.RunTestWaitingForQueueSpace, carrottypes.RunTestFailed,
	carrottypes.RunTestAborting, carrottypes.RunTestAborted,
	carrottypes.RunEvalSubmitted, carrottypes.RunEvalQueuedInCromwell, carrottypes.RunEvalStarting,
	carrottypes.RunEvalRunning, carrottypes.RunEvalWaitingForQueueSpace, carrottypes.RunEvalFailed,
	carrottypes.RunEvalAborting, carrottypes.RunEvalAborted,
	carrottypes.RunBuildFailed, carrottypes.RunCarrotFailed, carrottypes.RunSucceeded,
}

// NonTerminalRunStatuses returns every run status not in T, for watchdog's
// stuck-run scan (SPEC_FULL.md §4.8), which must also catch runs stuck
// before they ever reach a Cromwell-pollable phase (e.g. created, building)
// and not just the narrower set internal/statusmanager polls.
func NonTerminalRunStatuses() []carrottypes.RunStatus {
	out := make([]carrottypes.RunStatus, 0, len(allRunStatuses))
	for _, s := range allRunStatuses {
		if !IsTerminal(s) {
			out = append(out, s)
		}
	}
	return out
}
