// Package transport picks the artifact transfer protocol and the vendor
// command set for a resolved profile.
package transport

import (
	"fmt"
	"strings"

	"cfgvault/internal/profile"
)

type Protocol string

const (
	SCP  Protocol = "SCP"
	SFTP Protocol = "SFTP"
	TFTP Protocol = "TFTP"
	FTP  Protocol = "FTP"
)

// CommandSet is what runs on the device CLI: paging commands in order,
// then the command that dumps the configuration.
type CommandSet struct {
	DisablePaging []string
	ShowConfig    string
}

func (c CommandSet) All() []string {
	cmds := make([]string, 0, len(c.DisablePaging)+1)
	cmds = append(cmds, c.DisablePaging...)
	return append(cmds, c.ShowConfig)
}

type UnsupportedDeviceTypeError struct {
	DeviceType string
}

func (e *UnsupportedDeviceTypeError) Error() string {
	return fmt.Sprintf("unsupported device type: %q", e.DeviceType)
}

var commandSets = map[string]CommandSet{
	"cisco_ios":         {DisablePaging: []string{"terminal length 0"}, ShowConfig: "show running-config"},
	"cisco_xe":          {DisablePaging: []string{"terminal length 0"}, ShowConfig: "show running-config"},
	"cisco_nxos":        {DisablePaging: []string{"terminal length 0"}, ShowConfig: "show running-config"},
	"cisco_xr":          {DisablePaging: []string{"terminal length 0"}, ShowConfig: "show running-config"},
	"cisco_asa":         {DisablePaging: []string{"terminal pager 0"}, ShowConfig: "show running-config"},
	"juniper_junos":     {ShowConfig: "show configuration | display set"},
	"arista_eos":        {DisablePaging: []string{"terminal length 0", "terminal width 512"}, ShowConfig: "show running-config"},
	"paloalto_panos":    {DisablePaging: []string{"set cli pager off"}, ShowConfig: "show config running format xml"},
	"hp_comware":        {DisablePaging: []string{"screen-length disable"}, ShowConfig: "display current-configuration"},
	"hp_procurve":       {DisablePaging: []string{"no page"}, ShowConfig: "show running-config"},
	"huawei_vrp":        {DisablePaging: []string{"screen-length 0 temporary"}, ShowConfig: "display current-configuration"},
	"dell_os10":         {DisablePaging: []string{"terminal length 0"}, ShowConfig: "show running-configuration"},
	"dell_powerconnect": {DisablePaging: []string{"terminal length 0"}, ShowConfig: "show running-config"},
	"checkpoint_gaia":   {DisablePaging: []string{"set clienv rows 0"}, ShowConfig: "show configuration"},
	"fortinet_fortios": {
		DisablePaging: []string{"config system console", "set output standard", "end"},
		ShowConfig:    "show full-configuration",
	},
}

var aliases = map[string]string{
	"cisco":      "cisco_ios",
	"ios":        "cisco_ios",
	"nxos":       "cisco_nxos",
	"juniper":    "juniper_junos",
	"junos":      "juniper_junos",
	"arista":     "arista_eos",
	"paloalto":   "paloalto_panos",
	"fortinet":   "fortinet_fortios",
	"checkpoint": "checkpoint_gaia",
	"huawei":     "huawei_vrp",
	"comware":    "hp_comware",
	"procurve":   "hp_procurve",
}

// Canonical maps an alias to its device type. Unknown names come back
// unchanged.
func Canonical(deviceType string) string {
	dt := strings.ToLower(strings.TrimSpace(deviceType))
	if c, ok := aliases[dt]; ok {
		return c
	}
	return dt
}

func Commands(deviceType string) (CommandSet, error) {
	cs, ok := commandSets[Canonical(deviceType)]
	if !ok {
		return CommandSet{}, &UnsupportedDeviceTypeError{DeviceType: deviceType}
	}

	cs.DisablePaging = append([]string(nil), cs.DisablePaging...)
	return cs, nil
}

// Select maps a profile to its transfer protocol. Jump paths use SFTP
// since it can be relayed through the authenticated jump session.
func Select(p profile.Profile, deviceType string) (Protocol, CommandSet, error) {
	cs, err := Commands(deviceType)
	if err != nil {
		return "", CommandSet{}, err
	}

	switch {
	case p.Kind == profile.DirectSSH:
		return SCP, cs, nil
	case p.Kind == profile.DirectTelnet:
		return TFTP, cs, nil
	case p.Kind.IsJump():
		return SFTP, cs, nil
	default:
		return "", CommandSet{}, &profile.ValidationError{
			Code:  profile.UnsupportedProtocolCombination,
			Field: "kind",
			Value: string(p.Kind),
		}
	}
}

func SupportedDeviceTypes() []string {
	types := make([]string, 0, len(commandSets))
	for t := range commandSets {
		types = append(types, t)
	}
	return types
}
