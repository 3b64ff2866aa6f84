package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInput marks malformed coordinates, dates or dataset columns.
	ErrInput = errors.New("invalid input")
	// ErrArtifact marks a missing, corrupt or incompatible model artifact.
	ErrArtifact = errors.New("invalid model artifact")
	// ErrTraining marks a training run that could not complete.
	ErrTraining = errors.New("training failed")
)

// InputErrorf returns an error wrapping ErrInput.
func InputErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}

// ArtifactErrorf returns an error wrapping ErrArtifact.
func ArtifactErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrArtifact, fmt.Sprintf(format, args...))
}

// TrainingErrorf returns an error wrapping ErrTraining.
func TrainingErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTraining, fmt.Sprintf(format, args...))
}

// IsInput reports whether err is an input error.
func IsInput(err error) bool {
	return errors.Is(err, ErrInput)
}

// IsArtifact reports whether err is an artifact error.
func IsArtifact(err error) bool {
	return errors.Is(err, ErrArtifact)
}

// IsTraining reports whether err is a training error.
func IsTraining(err error) bool {
	return errors.Is(err, ErrTraining)
}
