// Package profile turns stored device fields into a validated connection
// profile. Resolution is pure: no I/O, no hidden state.
package profile

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"cfgvault/internal/model"
)

type Kind string

const (
	DirectSSH          Kind = "direct_ssh"
	DirectTelnet       Kind = "direct_telnet"
	JumpSSHToSSH       Kind = "jump_ssh/ssh"
	JumpSSHToTelnet    Kind = "jump_ssh/telnet"
	JumpTelnetToSSH    Kind = "jump_telnet/ssh"
	JumpTelnetToTelnet Kind = "jump_telnet/telnet"
)

func (k Kind) IsJump() bool {
	switch k {
	case JumpSSHToSSH, JumpSSHToTelnet, JumpTelnetToSSH, JumpTelnetToTelnet:
		return true
	default:
		return false
	}
}

type Protocol string

const (
	SSH    Protocol = "ssh"
	Telnet Protocol = "telnet"
)

func (p Protocol) DefaultPort() int {
	if p == Telnet {
		return 23
	}
	return 22
}

// Hop is one leg of the path to a device.
type Hop struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
	Username string   `json:"username"`
	Password string   `json:"-"`
}

func (h Hop) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// Profile is comparable; two resolutions of the same fields are ==.
// Jump is the zero Hop for direct kinds.
type Profile struct {
	Name           string `json:"name"`
	DeviceType     string `json:"device_type"`
	Kind           Kind   `json:"kind"`
	Target         Hop    `json:"target"`
	Jump           Hop    `json:"jump"`
	JumpName       string `json:"jump_name,omitempty"`
	EnablePassword string `json:"-"`
	UseKeys        bool   `json:"use_keys"`
	KeyFile        string `json:"key_file,omitempty"`
}

// RawFields is the fixed shape of a device record's connection fields.
type RawFields struct {
	Name           string
	IPAddress      string
	DeviceType     string
	Username       string
	Password       string
	EnablePassword string
	Port           string
	Protocol       string
	ConnectionType string
	JumpServer     string
	JumpHostName   string
	JumpUsername   string
	JumpPassword   string
	JumpProtocol   string
	JumpPort       string
	UseKeys        bool
	KeyFile        string
}

func FromDevice(d model.Device) RawFields {
	return RawFields{
		Name:           d.Name,
		IPAddress:      d.IPAddress,
		DeviceType:     d.DeviceType,
		Username:       d.Username,
		Password:       d.Password,
		EnablePassword: d.EnablePassword,
		Port:           d.Port,
		Protocol:       d.Protocol,
		ConnectionType: d.ConnectionType,
		JumpServer:     d.JumpServer,
		JumpHostName:   d.JumpHostName,
		JumpUsername:   d.JumpUsername,
		JumpPassword:   d.JumpPassword,
		JumpProtocol:   d.JumpProtocol,
		JumpPort:       d.JumpPort,
		UseKeys:        d.UseKeys,
		KeyFile:        d.KeyFile,
	}
}

type ErrorCode string

const (
	MissingAddress                 ErrorCode = "MissingAddress"
	MissingJumpCredentials         ErrorCode = "MissingJumpCredentials"
	InvalidPort                    ErrorCode = "InvalidPort"
	UnsupportedConnectionType      ErrorCode = "UnsupportedConnectionType"
	UnsupportedProtocolCombination ErrorCode = "UnsupportedProtocolCombination"
)

type ValidationError struct {
	Code  ErrorCode
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid connection profile: %s (%s)", e.Code, e.Field)
	}
	return fmt.Sprintf("invalid connection profile: %s (%s=%q)", e.Code, e.Field, e.Value)
}

// HasCode reports whether err carries a ValidationError with code.
func HasCode(err error, code ErrorCode) bool {
	if ve, ok := errors.AsType[*ValidationError](err); ok {
		return ve.Code == code
	}
	return false
}
