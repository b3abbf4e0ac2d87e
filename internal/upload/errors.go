package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/tfupload/internal/gradle"
)

// InvalidAPIKeyMarker is the text the TestFairy Gradle plugin reports when
// the server rejects the configured key.
const InvalidAPIKeyMarker = "Invalid API key"

var (
	// ErrConfigurationMissing means the build file does not declare the
	// plugin and a key yet; no build is attempted.
	ErrConfigurationMissing = errors.New("TestFairy is not configured for this project")
	// ErrNoTasksFound means Gradle reported no TestFairy tasks.
	ErrNoTasksFound = errors.New("no TestFairy build tasks found")
	// ErrURLNotFound means the build finished but printed no TestFairy URL.
	ErrURLNotFound = errors.New("TestFairy project URL not found in build output")
)

// InvalidCredentialError reports that the upload was rejected because of the API key.
type InvalidCredentialError struct {
	Cause error
}

func (e *InvalidCredentialError) Error() string {
	return "Invalid API key. Please use 'tfupload configure' to fix."
}

func (e *InvalidCredentialError) Unwrap() error { return e.Cause }

// BuildFailure is any other Gradle failure. Message is passed through verbatim.
type BuildFailure struct {
	Message string
	Cause   error
}

func (e *BuildFailure) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *BuildFailure) Unwrap() error { return e.Cause }

// Classify maps a Gradle error onto the upload error taxonomy.
// Errors that are already classified, cancellations, and unknown errors are
// returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var ice *InvalidCredentialError
	var bf *BuildFailure
	if errors.As(err, &ice) || errors.As(err, &bf) {
		return err
	}

	var ce *gradle.ConnectionError
	if errors.As(err, &ce) {
		if strings.Contains(ce.Diagnostic(), InvalidAPIKeyMarker) {
			return &InvalidCredentialError{Cause: err}
		}
		return &BuildFailure{Message: ce.Error(), Cause: err}
	}

	if errors.Is(err, gradle.ErrIllegalState) {
		return &BuildFailure{Message: err.Error(), Cause: err}
	}

	return err
}

// Expected reports whether err belongs to the classified taxonomy, as opposed
// to an unexpected failure that deserves full diagnostics.
func Expected(err error) bool {
	var ice *InvalidCredentialError
	var bf *BuildFailure
	return errors.Is(err, ErrConfigurationMissing) ||
		errors.Is(err, ErrNoTasksFound) ||
		errors.Is(err, ErrURLNotFound) ||
		errors.As(err, &ice) ||
		errors.As(err, &bf)
}

func configurationMissing(cause error) error {
	return fmt.Errorf("%w: %w", ErrConfigurationMissing, cause)
}
