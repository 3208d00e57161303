package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// call sends body as JSON to the daemon and decodes the reply into out.
// Error replies come back as {"error": "..."}.
func call(method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, daemonURL(path), r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return errors.New(apiErr.Error)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode daemon response: %w", err)
	}
	return nil
}

type deviceRow struct {
	ID             uint     `json:"ID"`
	Name           string   `json:"name"`
	IPAddress      string   `json:"ip_address"`
	DeviceType     string   `json:"device_type"`
	Protocol       string   `json:"protocol"`
	ConnectionType string   `json:"connection_type"`
	JumpServer     string   `json:"jump_server"`
	GroupNames     []string `json:"group_names"`
}

// deviceID accepts a numeric id or a device name.
func deviceID(ref string) (uint, error) {
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		return uint(id), nil
	}

	var devices []deviceRow
	if err := call(http.MethodGet, "/devices", nil, &devices); err != nil {
		return 0, err
	}
	for _, d := range devices {
		if d.Name == ref {
			return d.ID, nil
		}
	}
	return 0, fmt.Errorf("device %q not found", ref)
}

type groupRow struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Devices int64  `json:"devices"`
}

func groupID(name string) (uint, error) {
	var groups []groupRow
	if err := call(http.MethodGet, "/groups", nil, &groups); err != nil {
		return 0, err
	}
	for _, g := range groups {
		if g.Name == name {
			return g.ID, nil
		}
	}
	return 0, fmt.Errorf("group %q not found", name)
}
