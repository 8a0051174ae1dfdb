package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidID          = errors.New("invalid id")
	ErrEmailAlreadyExists = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserBlocked        = errors.New("user is blocked")
	ErrForbidden          = errors.New("insufficient permissions")

	ErrUserNotFound       = errors.New("user not found")
	ErrModelNotFound      = errors.New("model not found")
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrImageNotFound      = errors.New("image not found")

	ErrUnsupportedImage = errors.New("invalid file type, only JPEG/PNG allowed")
	ErrImageTooLarge    = errors.New("file too large")
	ErrUndecodableImage = errors.New("unable to process the uploaded image")
)

// validationError keeps the human readable reason while matching ErrValidation.
func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
