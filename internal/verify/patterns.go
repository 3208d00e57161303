package verify

import (
	"regexp"
	"strings"

	"cfgvault/internal/transport"
)

// Pattern is one syntax check. A missing required pattern fails
// verification; optional patterns are only reported.
type Pattern struct {
	Description string
	Expr        *regexp.Regexp
	Required    bool
}

func required(desc, expr string) Pattern {
	return Pattern{Description: desc, Expr: regexp.MustCompile(expr), Required: true}
}

func optional(desc, expr string) Pattern {
	return Pattern{Description: desc, Expr: regexp.MustCompile(expr)}
}

var hostnamePattern = required("hostname", `(?m)^\s*hostname\s+\S+`)

var patternSets = map[string][]Pattern{
	"cisco": {
		hostnamePattern,
		optional("interface address", `(?m)ip\s+address\s+\S+`),
		required("password encryption", `(?m)^\s*service\s+password-encryption`),
		required("enable secret", `(?m)^\s*enable\s+secret\s+\S+`),
		optional("aaa", `(?m)^\s*aaa\s+new-model`),
		required("logging", `(?m)^\s*logging\s+\S+`),
	},
	"juniper": {
		required("hostname", `(?m)^set\s+system\s+host-name\s+\S+`),
		required("root authentication", `(?m)^set\s+system\s+root-authentication\s+\S+`),
		optional("security", `(?m)^set\s+security\s+`),
	},
	"arista": {
		hostnamePattern,
		required("local user", `(?m)^\s*username\s+\S+\s+`),
		optional("management", `(?m)^\s*management\s+`),
	},
	"default": {
		optional("hostname", `(?m)(hostname|host-name|sysname)\s+\S+`),
	},
}

// Patterns returns the pattern set for deviceType by vendor prefix. Short
// aliases such as ios or junos resolve to their full device type first.
func Patterns(deviceType string) []Pattern {
	dt := transport.Canonical(deviceType)
	for _, vendor := range []string{"cisco", "juniper", "arista"} {
		if strings.HasPrefix(dt, vendor) {
			return patternSets[vendor]
		}
	}
	return patternSets["default"]
}
