package util

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrValidation       = errors.New("validation failed")
	ErrThresholdUnmet   = errors.New("approval threshold not met")
	ErrConcurrentUpdate = errors.New("proposal was modified concurrently, reload and retry")

	ErrUsernameTaken      = errors.New("user exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLessonStoreSeeded  = errors.New("DB not empty")
)

// RuleError names the rule a request violated. Kind is one of the sentinel
// errors above so callers can classify with errors.Is.
type RuleError struct {
	Kind    error
	Message string
	Details map[string]interface{}
}

func (e *RuleError) Error() string {
	return e.Message
}

func (e *RuleError) Unwrap() error {
	return e.Kind
}

func newRuleError(kind error, details map[string]interface{}, format string, args ...interface{}) *RuleError {
	return &RuleError{Kind: kind, Message: fmt.Sprintf(format, args...), Details: details}
}

func NotFoundf(format string, args ...interface{}) error {
	return newRuleError(ErrNotFound, nil, format, args...)
}

func Forbiddenf(format string, args ...interface{}) error {
	return newRuleError(ErrForbidden, nil, format, args...)
}

func Invalidf(format string, args ...interface{}) error {
	return newRuleError(ErrValidation, nil, format, args...)
}

// InvalidStatef reports a transition attempted from the wrong status.
func InvalidStatef(current string, format string, args ...interface{}) error {
	return newRuleError(ErrInvalidState, map[string]interface{}{"status": current}, format, args...)
}

// ThresholdUnmet carries the progress counts so clients can show them.
func ThresholdUnmet(current, required int) error {
	return newRuleError(ErrThresholdUnmet,
		map[string]interface{}{"approvalCount": current, "totalAdmins": required},
		"Cannot open for voting. Only %d/%d admins have approved.", current, required)
}

// Details returns the structured details of a RuleError, if any.
func Details(err error) map[string]interface{} {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Details
	}
	return nil
}
