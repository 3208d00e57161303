package tunnel

import (
	"errors"
	"fmt"
)

// Hop names the leg of the path an error happened on.
type Hop string

const (
	HopJump   Hop = "jump"
	HopTarget Hop = "target"
)

// ConnectionError means a hop could not be reached or dropped before the
// CLI was usable.
type ConnectionError struct {
	Hop  Hop
	Addr string
	Err  error
}

func (e *ConnectionError) Code() string {
	if e.Hop == HopJump {
		return "JumpHostUnreachable"
	}
	return "TargetUnreachable"
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Code(), e.Hop, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type AuthenticationError struct {
	Hop  Hop
	User string
	Err  error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("AuthenticationFailed: %s hop as %q: %v", e.Hop, e.User, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// HopOf reports which hop err is tagged with, if any.
func HopOf(err error) (Hop, bool) {
	if ce, ok := errors.AsType[*ConnectionError](err); ok {
		return ce.Hop, true
	}
	if ae, ok := errors.AsType[*AuthenticationError](err); ok {
		return ae.Hop, true
	}
	return "", false
}
