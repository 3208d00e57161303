package autostart

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const unitFile = serviceName + ".service"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=cfgvault network configuration backup daemon
After=network-online.target
Wants=network-online.target

[Service]
ExecStart={{.ExecPath}} daemon
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`))

type LinuxAutoStarter struct {
	// unitDir overrides ~/.config/systemd/user.
	unitDir string
	run     func(args ...string) ([]byte, error)
}

func (l *LinuxAutoStarter) servicePath() (string, error) {
	dir := l.unitDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config", "systemd", "user")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(dir, unitFile), nil
}

func (l *LinuxAutoStarter) systemctl(args ...string) ([]byte, error) {
	args = append([]string{"--user"}, args...)
	if l.run != nil {
		return l.run(args...)
	}
	return exec.Command("systemctl", args...).CombinedOutput()
}

func writeUnit(w io.Writer, execPath string) error {
	return unitTemplate.Execute(w, map[string]string{"ExecPath": execPath})
}

func (l *LinuxAutoStarter) Install(execPath string) error {
	path, err := l.servicePath()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create service file: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	if err := writeUnit(f, execPath); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}

	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", unitFile},
		{"start", unitFile},
	} {
		if out, err := l.systemctl(args...); err != nil {
			return fmt.Errorf("failed to run systemctl %v: %w\n%s", args, err, out)
		}
	}

	return nil
}

func (l *LinuxAutoStarter) Uninstall() error {
	_, _ = l.systemctl("stop", unitFile)
	_, _ = l.systemctl("disable", unitFile)

	path, err := l.servicePath()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove service file: %w", err)
	}
	return nil
}

func (l *LinuxAutoStarter) IsInstalled() (bool, error) {
	path, err := l.servicePath()
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	return err == nil, nil
}
