package util

import (
	"fmt"
	"time"
)

// ResponseError is an error that already knows its HTTP status.
type ResponseError struct {
	Msg        string
	Status     int
	RetryAfter time.Duration
}

func (e ResponseError) Error() string { return e.Msg }

func NewResponseError(status int, format string, args ...interface{}) error {
	return ResponseError{
		Msg:    fmt.Sprintf(format, args...),
		Status: status,
	}
}
