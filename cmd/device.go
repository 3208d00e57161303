package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage the device inventory",
}

var newDevice struct {
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
	Groups         string
}

var deviceAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"name":            args[0],
			"ip_address":      newDevice.IPAddress,
			"device_type":     newDevice.DeviceType,
			"username":        newDevice.Username,
			"password":        newDevice.Password,
			"enable_password": newDevice.EnablePassword,
			"port":            newDevice.Port,
			"protocol":        newDevice.Protocol,
			"connection_type": newDevice.ConnectionType,
			"jump_server":     newDevice.JumpServer,
			"jump_host_name":  newDevice.JumpHostName,
			"jump_username":   newDevice.JumpUsername,
			"jump_password":   newDevice.JumpPassword,
			"jump_protocol":   newDevice.JumpProtocol,
			"jump_port":       newDevice.JumpPort,
			"use_keys":        newDevice.UseKeys,
			"key_file":        newDevice.KeyFile,
			"groups":          newDevice.Groups,
		}

		var d deviceRow
		if err := call(http.MethodPost, "/devices", body, &d); err != nil {
			return err
		}

		fmt.Println(successStyle.Render(fmt.Sprintf("device added: id=%d name=%s", d.ID, d.Name)))
		return nil
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		var devices []deviceRow
		if err := call(http.MethodGet, "/devices", nil, &devices); err != nil {
			return err
		}

		if len(devices) == 0 {
			fmt.Println(dimStyle.Render("no devices yet, add one with: cfgvault device add <name> --ip ... --type ..."))
			return nil
		}

		rows := make([][]string, 0, len(devices))
		for _, d := range devices {
			rows = append(rows, []string{
				strconv.FormatUint(uint64(d.ID), 10),
				d.Name,
				d.IPAddress,
				d.DeviceType,
				orDash(d.Protocol),
				orDash(d.ConnectionType),
				orDash(d.JumpServer),
				orDash(strings.Join(d.GroupNames, ",")),
			})
		}

		fmt.Println(titleStyle.Render(fmt.Sprintf("==> devices (%d)", len(devices))))
		printTable([]string{"id", "name", "address", "type", "protocol", "connection", "jump", "groups"}, rows)
		return nil
	},
}

var deviceRemoveCmd = &cobra.Command{
	Use:   "remove [id|name]",
	Short: "Remove a device with its backups and schedules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := deviceID(args[0])
		if err != nil {
			return err
		}

		if err := call(http.MethodDelete, fmt.Sprintf("/devices/%d", id), nil, nil); err != nil {
			return err
		}

		fmt.Printf("device %s removed\n", args[0])
		return nil
	},
}

var deviceProfileCmd = &cobra.Command{
	Use:   "profile [id|name]",
	Short: "Show the resolved connection profile of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := deviceID(args[0])
		if err != nil {
			return err
		}

		var view json.RawMessage
		if err := call(http.MethodGet, fmt.Sprintf("/devices/%d/profile", id), nil, &view); err != nil {
			return err
		}

		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	f := deviceAddCmd.Flags()
	f.StringVar(&newDevice.IPAddress, "ip", "", "management address")
	f.StringVar(&newDevice.DeviceType, "type", "", "device type, e.g. cisco_ios")
	f.StringVar(&newDevice.Username, "username", "", "login user")
	f.StringVar(&newDevice.Password, "password", "", "login password")
	f.StringVar(&newDevice.EnablePassword, "enable-password", "", "enable password")
	f.StringVar(&newDevice.Port, "port", "", "port, defaults to the protocol port")
	f.StringVar(&newDevice.Protocol, "protocol", "", "ssh or telnet")
	f.StringVar(&newDevice.ConnectionType, "connection-type", "", "direct_ssh, direct_telnet, jump_host or jump_<jump>/<target>")
	f.StringVar(&newDevice.JumpServer, "jump-server", "", "jump host address")
	f.StringVar(&newDevice.JumpHostName, "jump-name", "", "jump host display name")
	f.StringVar(&newDevice.JumpUsername, "jump-username", "", "jump host user")
	f.StringVar(&newDevice.JumpPassword, "jump-password", "", "jump host password")
	f.StringVar(&newDevice.JumpProtocol, "jump-protocol", "", "ssh or telnet")
	f.StringVar(&newDevice.JumpPort, "jump-port", "", "jump host port")
	f.BoolVar(&newDevice.UseKeys, "use-keys", false, "authenticate with a private key")
	f.StringVar(&newDevice.KeyFile, "key-file", "", "private key path")
	f.StringVar(&newDevice.Groups, "groups", "", "comma separated groups")
	_ = deviceAddCmd.MarkFlagRequired("ip")
	_ = deviceAddCmd.MarkFlagRequired("type")

	deviceCmd.AddCommand(deviceAddCmd, deviceListCmd, deviceRemoveCmd, deviceProfileCmd)
	rootCmd.AddCommand(deviceCmd)
}
