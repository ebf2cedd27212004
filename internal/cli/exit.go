package cli

import "errors"

// errThreshold signals that a scan met the --fail-on severity.
var errThreshold = errors.New("risk threshold reached")

// ExitCode maps a command error to the process exit status: 2 when a scan
// crossed its threshold, 1 for everything else.
func ExitCode(err error) int {
	if errors.Is(err, errThreshold) {
		return 2
	}
	return 1
}
