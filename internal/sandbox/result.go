package sandbox

// ErrorClass classifies a failed execution for the caller. OutputTooLarge is
// deliberately absent: truncated output is reported as a success with
// Truncated=true, since partial output is still useful.
type ErrorClass string

const (
	// ErrorClassNone means the request succeeded.
	ErrorClassNone ErrorClass = ""

	// ErrorClassPolicyViolation covers non-whitelisted commands, mutating
	// flags, path escapes and oversized input files. Never retried, and no
	// process was spawned.
	ErrorClassPolicyViolation ErrorClass = "policy_violation"

	// ErrorClassTimeout means the process group was force-killed after the
	// policy timeout elapsed.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassExec covers spawn and pipe failures.
	ErrorClassExec ErrorClass = "exec_error"
)

// ExecutionResult is the outcome of a single Command. It is finalized before
// being returned and never mutated afterwards.
type ExecutionResult struct {
	Success     bool       `json:"success"`
	Stdout      string     `json:"stdout"`
	Stderr      string     `json:"stderr"`
	ExitCode    int        `json:"exit_code"`
	Truncated   bool       `json:"truncated"`
	DurationMs  int64      `json:"duration_ms"`
	ErrorClass  ErrorClass `json:"error_class,omitempty"`
	ErrorDetail string     `json:"error_detail,omitempty"`
}

func failure(class ErrorClass, detail string, durationMs int64) *ExecutionResult {
	return &ExecutionResult{
		Success:     false,
		ExitCode:    -1,
		DurationMs:  durationMs,
		ErrorClass:  class,
		ErrorDetail: detail,
	}
}
