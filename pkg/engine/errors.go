package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an upgrade failure for retry and exit handling.
type ErrorClass string

const (
	// ErrorClassIdentity indicates missing or invalid clone naming.
	ErrorClassIdentity ErrorClass = "identity"

	// ErrorClassFingerprint indicates the OS family or version could not
	// be determined.
	ErrorClassFingerprint ErrorClass = "fingerprint"

	// ErrorClassPlan indicates no known transition exists for the
	// detected version.
	ErrorClassPlan ErrorClass = "plan"

	// ErrorClassClone indicates the clone operation was rejected by the
	// platform.
	ErrorClassClone ErrorClass = "clone"

	// ErrorClassPackageOp indicates a non-zero exit from the composite
	// upgrade command chain. This is the only retryable class.
	ErrorClassPackageOp ErrorClass = "package-op"

	// ErrorClassPlatform indicates any other adapter call failing.
	ErrorClassPlatform ErrorClass = "platform"
)

// UpgradeError is a classified error with workflow context.
type UpgradeError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Template is the VM the error relates to, if applicable.
	Template string `json:"template,omitempty"`

	// Step is the procedure step that failed, if applicable.
	Step string `json:"step,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *UpgradeError) Error() string {
	ctx := ""
	switch {
	case e.Template != "" && e.Step != "":
		ctx = fmt.Sprintf(" (template=%s, step=%s)", e.Template, e.Step)
	case e.Template != "":
		ctx = fmt.Sprintf(" (template=%s)", e.Template)
	case e.Step != "":
		ctx = fmt.Sprintf(" (step=%s)", e.Step)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s%s: %s", e.Class, e.Message, ctx, e.Err)
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, ctx)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *UpgradeError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *UpgradeError) Is(target error) bool {
	t, ok := target.(*UpgradeError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithTemplate adds template context to the error.
func (e *UpgradeError) WithTemplate(template string) *UpgradeError {
	e.Template = template
	return e
}

// WithStep adds step context to the error.
func (e *UpgradeError) WithStep(step string) *UpgradeError {
	e.Step = step
	return e
}

// NewIdentityError creates an identity (clone naming) error.
func NewIdentityError(message string, err error) *UpgradeError {
	return &UpgradeError{Class: ErrorClassIdentity, Message: message, Err: err}
}

// NewFingerprintError creates a fingerprint detection error.
func NewFingerprintError(message string, err error) *UpgradeError {
	return &UpgradeError{Class: ErrorClassFingerprint, Message: message, Err: err}
}

// NewPlanError creates a transition lookup error.
func NewPlanError(message string, err error) *UpgradeError {
	return &UpgradeError{Class: ErrorClassPlan, Message: message, Err: err}
}

// NewCloneError creates a clone operation error.
func NewCloneError(message string, err error) *UpgradeError {
	return &UpgradeError{Class: ErrorClassClone, Message: message, Err: err}
}

// NewPackageOpError creates a package operation error.
func NewPackageOpError(message string, err error) *UpgradeError {
	return &UpgradeError{Class: ErrorClassPackageOp, Message: message, Err: err}
}

// NewPlatformError creates a platform call error.
func NewPlatformError(message string, err error) *UpgradeError {
	return &UpgradeError{Class: ErrorClassPlatform, Message: message, Err: err}
}

// classOf extracts the class of an UpgradeError anywhere in the chain.
func classOf(err error) (ErrorClass, bool) {
	var e *UpgradeError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsIdentity returns true for identity errors.
func IsIdentity(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassIdentity
}

// IsFingerprint returns true for fingerprint errors.
func IsFingerprint(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassFingerprint
}

// IsPlan returns true for plan errors.
func IsPlan(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassPlan
}

// IsClone returns true for clone errors.
func IsClone(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassClone
}

// IsPackageOp returns true for package operation errors.
func IsPackageOp(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassPackageOp
}

// IsPlatform returns true for platform call errors.
func IsPlatform(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassPlatform
}

// IsRetryable returns true if the error can be retried. Only package
// operations are retried; every other class aborts immediately.
func IsRetryable(err error) bool {
	return IsPackageOp(err)
}
