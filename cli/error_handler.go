package cli

import (
	"fmt"
	"os"

	"github.com/perchtools/perch/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{Verbose: verbose}
}

// Handle provides user-friendly error messages based on error type
func (h *ErrorHandler) Handle(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(os.Stderr, "❌ Configuration not found. Create %s to configure perch.\n", "~/.config/perch/perch.yml")
		return err

	case errors.ErrCodeDaemonNotRunning:
		fmt.Fprintf(os.Stderr, "❌ The perch daemon is not running.\n")
		fmt.Fprintf(os.Stderr, "Start it with 'perch daemon start'.\n")
		return err

	case errors.ErrCodeNodeNotFound:
		if perchErr, ok := err.(*errors.PerchError); ok {
			fmt.Fprintf(os.Stderr, "❌ Node '%s' not found in perch.yml\n", perchErr.Details["node"])
			fmt.Fprintf(os.Stderr, "Run 'perch config show' to see configured nodes.\n")
		}
		return err

	case errors.ErrCodeNodeUnreachable:
		if perchErr, ok := err.(*errors.PerchError); ok {
			fmt.Fprintf(os.Stderr, "❌ Node '%s' is unreachable over ssh\n", perchErr.Details["node"])
		}
		return err

	case errors.ErrCodeLaunchFailed:
		fmt.Fprintf(os.Stderr, "❌ Failed to launch a new session: %v\n", err)
		return err

	default:
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		if h.Verbose {
			if perchErr, ok := err.(*errors.PerchError); ok {
				fmt.Fprintf(os.Stderr, "%s\n", perchErr.ToJSON())
			}
		}
		return err
	}
}
