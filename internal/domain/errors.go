package domain

import "fmt"

var (
	ErrValidation        = fmt.Errorf("validation failed")
	ErrNotFound          = fmt.Errorf("not found")
	ErrAlreadyRegistered = fmt.Errorf("connection already registered")
	ErrPrecondition      = fmt.Errorf("precondition failed")
)
