package profile

import (
	"strconv"
	"strings"
)

// Resolve normalizes raw device fields into a Profile.
//
// connection_type selects the shape: direct_ssh/ssh and
// direct_telnet/telnet force a direct path, jump_host or any jump_*
// value forces a jump path, and an empty value means direct over the
// device protocol. For jump paths the variant is jump_protocol crossed
// with the device protocol; a legacy value such as jump_telnet/ssh
// supplies both when the protocol fields are empty.
func Resolve(raw RawFields) (Profile, error) {
	r := normalize(raw)

	if r.IPAddress == "" {
		return Profile{}, &ValidationError{Code: MissingAddress, Field: "ip_address"}
	}

	jump, target, err := protocols(r)
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		Name:           r.Name,
		DeviceType:     r.DeviceType,
		EnablePassword: r.EnablePassword,
		UseKeys:        r.UseKeys,
		KeyFile:        r.KeyFile,
		Target: Hop{
			Host:     r.IPAddress,
			Protocol: target,
			Username: r.Username,
			Password: r.Password,
		},
	}

	if p.Target.Port, err = port(r.Port, target, "port"); err != nil {
		return Profile{}, err
	}

	if jump == "" {
		p.Kind = DirectSSH
		if target == Telnet {
			p.Kind = DirectTelnet
		}
		return p, nil
	}

	for _, f := range []struct{ name, value string }{
		{"jump_server", r.JumpServer},
		{"jump_username", r.JumpUsername},
		{"jump_password", r.JumpPassword},
	} {
		if f.value == "" {
			return Profile{}, &ValidationError{Code: MissingJumpCredentials, Field: f.name}
		}
	}

	p.Kind = jumpKind(jump, target)
	p.JumpName = r.JumpHostName
	p.Jump = Hop{
		Host:     r.JumpServer,
		Protocol: jump,
		Username: r.JumpUsername,
		Password: r.JumpPassword,
	}
	if p.Jump.Port, err = port(r.JumpPort, jump, "jump_port"); err != nil {
		return Profile{}, err
	}

	return p, nil
}

// protocols returns the jump protocol (empty for a direct path) and the
// target protocol.
func protocols(r RawFields) (Protocol, Protocol, error) {
	ct := r.ConnectionType
	switch {
	case ct == "direct_ssh" || ct == "ssh":
		return "", SSH, nil
	case ct == "direct_telnet" || ct == "telnet":
		return "", Telnet, nil
	case ct == "":
		target, err := targetProtocol(r.Protocol, "")
		return "", target, err
	case ct == "jump_host" || strings.HasPrefix(ct, "jump_"):
		jumpHint, targetHint := legacyHints(ct)

		jp := r.JumpProtocol
		if jp == "" {
			jp = jumpHint
		}
		jump := SSH
		if jp == string(Telnet) {
			jump = Telnet
		}

		target, err := targetProtocol(r.Protocol, targetHint)
		return jump, target, err
	default:
		return "", "", &ValidationError{Code: UnsupportedConnectionType, Field: "connection_type", Value: ct}
	}
}

func targetProtocol(value, hint string) (Protocol, error) {
	if value == "" {
		value = hint
	}
	switch value {
	case "", string(SSH):
		return SSH, nil
	case string(Telnet):
		return Telnet, nil
	default:
		return "", &ValidationError{Code: UnsupportedProtocolCombination, Field: "protocol", Value: value}
	}
}

// legacyHints splits values like jump_telnet/ssh into their halves.
// jump_host carries no hint.
func legacyHints(ct string) (string, string) {
	rest := strings.TrimPrefix(ct, "jump_")
	jump, target, _ := strings.Cut(rest, "/")
	if jump != string(SSH) && jump != string(Telnet) {
		jump = ""
	}
	return jump, target
}

func jumpKind(jump, target Protocol) Kind {
	switch {
	case jump == Telnet && target == Telnet:
		return JumpTelnetToTelnet
	case jump == Telnet:
		return JumpTelnetToSSH
	case target == Telnet:
		return JumpSSHToTelnet
	default:
		return JumpSSHToSSH
	}
}

func port(value string, proto Protocol, field string) (int, error) {
	if value == "" {
		return proto.DefaultPort(), nil
	}

	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 65535 {
		return 0, &ValidationError{Code: InvalidPort, Field: field, Value: value}
	}
	return n, nil
}

// normalize trims every field and case-folds the enumerated ones.
// Credentials and names keep their case.
func normalize(raw RawFields) RawFields {
	fold := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

	return RawFields{
		Name:           strings.TrimSpace(raw.Name),
		IPAddress:      strings.TrimSpace(raw.IPAddress),
		DeviceType:     fold(raw.DeviceType),
		Username:       strings.TrimSpace(raw.Username),
		Password:       strings.TrimSpace(raw.Password),
		EnablePassword: strings.TrimSpace(raw.EnablePassword),
		Port:           strings.TrimSpace(raw.Port),
		Protocol:       fold(raw.Protocol),
		ConnectionType: fold(raw.ConnectionType),
		JumpServer:     strings.TrimSpace(raw.JumpServer),
		JumpHostName:   strings.TrimSpace(raw.JumpHostName),
		JumpUsername:   strings.TrimSpace(raw.JumpUsername),
		JumpPassword:   strings.TrimSpace(raw.JumpPassword),
		JumpProtocol:   fold(raw.JumpProtocol),
		JumpPort:       strings.TrimSpace(raw.JumpPort),
		UseKeys:        raw.UseKeys,
		KeyFile:        strings.TrimSpace(raw.KeyFile),
	}
}
