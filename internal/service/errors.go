package service

import (
	"errors"
)

var (
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserNotFound       = errors.New("user not found")
	ErrForbidden          = errors.New("forbidden")
	ErrEmptyMessage       = errors.New("message must have text or an image")
	ErrSelfMessage        = errors.New("cannot send a message to yourself")
	ErrUpload             = errors.New("image upload failed")
)

// InputError is an ErrInvalidInput carrying a message safe to show to clients.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return "invalid input: " + e.Message }

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalid(message string) error {
	return &InputError{Message: message}
}
