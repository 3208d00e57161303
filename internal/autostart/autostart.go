// Package autostart registers the daemon to start at login.
package autostart

import (
	"errors"
	"runtime"
)

const serviceName = "cfgvault"

var ErrUnsupported = errors.New("autostart is not supported on " + runtime.GOOS)

type AutoStarter interface {
	Install(execPath string) error
	Uninstall() error
	IsInstalled() (bool, error)
}

func New() AutoStarter {
	return forOS(runtime.GOOS)
}

func forOS(goos string) AutoStarter {
	switch goos {
	case "windows":
		return &WindowsAutoStarter{}
	case "linux":
		return &LinuxAutoStarter{}
	default:
		return unsupported{}
	}
}

type unsupported struct{}

func (unsupported) Install(string) error { return ErrUnsupported }
func (unsupported) Uninstall() error { return ErrUnsupported }
func (unsupported) IsInstalled() (bool, error) { return false, nil }
