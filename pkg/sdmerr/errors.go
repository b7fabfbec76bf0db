// Package sdmerr defines the error taxonomy shared across the sdm tool.
//
// Errors fall into four categories:
//   - IntegrityError: the migration plan set, schema store, or history
//     table is in a state the tool refuses to operate on.
//   - ConditionCheckError: a pre/post condition check returned a value
//     other than the expected one.
//   - UsageError: the invocation asked for something impossible (unknown
//     environment, target already applied, ambiguous signature).
//   - ExternalToolError: a subprocess (schema applier, script runtime)
//     exited non-zero.
//
// Database driver errors are not wrapped into this taxonomy; they
// propagate unchanged.
package sdmerr

import (
	"fmt"

	"github.com/pkg/errors"
)

type (
	// IntegrityError indicates that plans, store blobs, or history rows are
	// inconsistent. It is fatal and raised before any database mutation.
	IntegrityError struct{ msg string }

	// ConditionCheckError indicates a failed pre/post condition check. The
	// in-progress history row is left in PROCESSING/ROLLBACKING so that fix
	// can resume once the check is corrected.
	ConditionCheckError struct{ msg string }

	// UsageError indicates invalid input to a command.
	UsageError struct{ msg string }

	// ExternalToolError indicates a non-zero exit from a subprocess.
	ExternalToolError struct{ msg string }
)

func (e *IntegrityError) Error() string      { return e.msg }
func (e *ConditionCheckError) Error() string { return e.msg }
func (e *UsageError) Error() string          { return e.msg }
func (e *ExternalToolError) Error() string   { return e.msg }

// Integrityf creates a new IntegrityError with a formatted message.
func Integrityf(format string, args ...any) error {
	return &IntegrityError{msg: fmt.Sprintf(format, args...)}
}

// ConditionCheckf creates a new ConditionCheckError with a formatted message.
func ConditionCheckf(format string, args ...any) error {
	return &ConditionCheckError{msg: fmt.Sprintf(format, args...)}
}

// Usagef creates a new UsageError with a formatted message.
func Usagef(format string, args ...any) error {
	return &UsageError{msg: fmt.Sprintf(format, args...)}
}

// ExternalToolf creates a new ExternalToolError with a formatted message.
func ExternalToolf(format string, args ...any) error {
	return &ExternalToolError{msg: fmt.Sprintf(format, args...)}
}

// IsIntegrity reports whether any error in err's chain is an IntegrityError.
func IsIntegrity(err error) bool {
	var t *IntegrityError
	return errors.As(err, &t)
}

// IsConditionCheck reports whether any error in err's chain is a
// ConditionCheckError.
func IsConditionCheck(err error) bool {
	var t *ConditionCheckError
	return errors.As(err, &t)
}

// IsUsage reports whether any error in err's chain is a UsageError.
func IsUsage(err error) bool {
	var t *UsageError
	return errors.As(err, &t)
}

// IsExternalTool reports whether any error in err's chain is an
// ExternalToolError.
func IsExternalTool(err error) bool {
	var t *ExternalToolError
	return errors.As(err, &t)
}
