package model

import (
	"errors"
	"strings"
)

var (
	ErrConfigInvalid = errors.New("config invalid")
	ErrFetchFailed   = errors.New("fetch offers failed")
	ErrBoostFailed   = errors.New("boost failed")
	ErrNotifyFailed  = errors.New("notify failed")
)

// CredentialsError reports an account whose required fields are empty.
// It matches ErrConfigInvalid under errors.Is.
type CredentialsError struct {
	Missing []string
}

func (e *CredentialsError) Error() string {
	return "missing credentials (" + strings.Join(e.Missing, ", ") + ")"
}

func (e *CredentialsError) Is(target error) bool {
	return target == ErrConfigInvalid
}
