// Package cli wires the engine into a cobra command tree: validate,
// run, and serve. Grounded on the teacher's cli/*.go and
// cmd/petalflow/main.go, trimmed of everything specific to agent
// workflows and LLM providers (this engine has no provider/schema
// duality to validate against).
package cli

import "fmt"

// Exit codes. A subset of the teacher's cli/run.go constants: exitProvider
// and exitWrongSchema are dropped since this engine has no LLM provider
// or dual agent/graph schema to fail against.
const (
	exitSuccess      = 0
	exitValidation   = 1
	exitRuntime      = 2
	exitFileNotFound = 3
	exitInputParse   = 4
	exitTimeout      = 10
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}
