package docker

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionFailed = errors.New("docker connection failed")
	ErrPullFailed       = errors.New("image pull failed")
	ErrBuildFailed      = errors.New("image build failed")
)

// Error wraps a daemon failure with the operation and object it concerned.
type Error struct {
	Op     string // e.g. "StartService"
	Entity string // container, network, volume, image
	ID     string
	Err    error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, entity, id string, err error) *Error {
	return &Error{Op: op, Entity: entity, ID: id, Err: err}
}
