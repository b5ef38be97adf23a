package helper

import (
	"errors"

	"github.com/gravitational/libadcs/internal/adcserr"
)

// ExitCode maps an operation error onto the certmonger exit-code contract
// (spec §6): Configuration-category errors are "underconfigured" (4);
// Discovery/Protocol-category errors ("could not reach the CA in one way
// or another) are "connection failure" (3); everything else is the
// generic failure code (-1). A nil error is never passed to this
// function — callers branch on err == nil before reaching it.
func ExitCode(err error) int {
	switch {
	case errors.Is(err, adcserr.Configuration):
		return 4
	case errors.Is(err, adcserr.Discovery), errors.Is(err, adcserr.Protocol):
		return 3
	default:
		return -1
	}
}
