package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrUploadNotFound = errors.New("upload not found")
	ErrTerminalStatus = errors.New("upload already in terminal status")
	// ErrPermanent marks job failures that a retry cannot fix.
	ErrPermanent = errors.New("permanent failure")
	ErrTemporary = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
