package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/carelog/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Check failure (violations, drift, failed scenarios, rejected commit)
	ExitCommandError = 2 // Command error (bad input, unreadable file, database not found)
)

// Error codes reported in CLIError.Code.
const (
	CodeValidation  = "E100" // input rejected before reaching the store
	CodePersistence = "E101" // the store rejected a batch
	CodeInput       = "E102" // unreadable or malformed input file
	CodeCheckFailed = "E103" // data-quality violations or drift
	CodeTestFailed  = "E104" // failing scenarios
	CodeInternal    = "E199"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// badInput marks err as a problem with the user's input.
func badInput(err error) *ExitError {
	return &ExitError{Code: ExitCommandError, Message: err.Error()}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an
// ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps an engine error onto an error code and exit code.
func classify(err error) (string, int) {
	switch {
	case engine.IsValidationError(err):
		return CodeValidation, ExitCommandError
	case engine.IsPersistenceError(err):
		return CodePersistence, ExitFailure
	default:
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Code == ExitCommandError {
			return CodeInput, ExitCommandError
		}
		return CodeInternal, ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string    `json:"status"`             // "ok" or "error"
	Data    any       `json:"data,omitempty"`     // success payload
	Error   *CLIError `json:"error,omitempty"`    // error details
	TraceID string    `json:"trace_id,omitempty"` // batch ID of the write, when there was one
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E100", "E101", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// Text output prints data with fmt, so result types implement String.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Outcome outputs a result that may carry failures. JSON output reports
// failures with status "error" under code; either way a failure returns
// an ExitError with ExitFailure.
func (f *OutputFormatter) Outcome(data any, failed bool, code, message string) error {
	if !failed {
		return f.Success(data)
	}
	if f.Format == "json" {
		if err := f.encode(CLIResponse{
			Status: "error",
			Data:   data,
			Error:  &CLIError{Code: code, Message: message},
		}); err != nil {
			return err
		}
	} else if _, err := fmt.Fprintln(f.Writer, data); err != nil {
		return err
	}
	return &ExitError{Code: ExitFailure, Message: message, Err: errReported{errors.New(message)}}
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	w := f.GetErrWriter()
	fmt.Fprintf(w, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(w, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it as an ExitError carrying the exit code
// its kind maps to. The returned error is already reported.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	var details any
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		details = map[string]string{
			"op":      engErr.Op,
			"subject": engErr.SubjectID,
			"entity":  engErr.EntityID,
		}
	}
	if writeErr := f.Error(code, fmt.Sprintf("%s: %v", message, err), details); writeErr != nil {
		return writeErr
	}
	return &ExitError{Code: exit, Message: message, Err: errReported{err}}
}

// errReported marks an error that was already written to the user.
type errReported struct{ error }

func (e errReported) Unwrap() error { return e.error }

// IsReported reports whether err was already written by Fail.
func IsReported(err error) bool {
	var r errReported
	return errors.As(err, &r)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
