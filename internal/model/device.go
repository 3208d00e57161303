package model

import "gorm.io/gorm"

// Device is the stored record a connection profile is derived from.
// Port and JumpPort keep the raw text the operator entered.
type Device struct {
	gorm.Model
	Name           string  `gorm:"uniqueIndex;not null" json:"name"`
	IPAddress      string  `gorm:"not null" json:"ip_address"`
	DeviceType     string  `gorm:"not null" json:"device_type"`
	Username       string  `json:"username"`
	Password       string  `json:"password,omitempty"`
	EnablePassword string  `json:"enable_password,omitempty"`
	Port           string  `json:"port"`
	Protocol       string  `json:"protocol"`
	ConnectionType string  `json:"connection_type"`
	JumpServer     string  `json:"jump_server"`
	JumpHostName   string  `json:"jump_host_name"`
	JumpUsername   string  `json:"jump_username"`
	JumpPassword   string  `json:"jump_password,omitempty"`
	JumpProtocol   string  `json:"jump_protocol"`
	JumpPort       string  `json:"jump_port"`
	UseKeys        bool    `json:"use_keys"`
	KeyFile        string  `json:"key_file"`
	Groups         []Group `gorm:"many2many:device_groups;" json:"groups,omitempty"`
}

// Redacted returns a copy without secrets, for listings.
func (d Device) Redacted() Device {
	d.Password = ""
	d.EnablePassword = ""
	d.JumpPassword = ""
	return d
}

func (d Device) GroupNames() []string {
	names := make([]string, 0, len(d.Groups))
	for _, g := range d.Groups {
		names = append(names, g.Name)
	}
	return names
}

type Group struct {
	gorm.Model
	Name    string   `gorm:"uniqueIndex;not null" json:"name"`
	Devices []Device `gorm:"many2many:device_groups;" json:"-"`
}

// TableName avoids GROUPS, which is an SQL keyword.
func (Group) TableName() string {
	return "inventory_groups"
}
