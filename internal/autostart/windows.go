package autostart

import (
	"fmt"
	"os/exec"
)

// taskName is the scheduled task that starts the daemon at logon.
const taskName = "CfgvaultDaemon"

type WindowsAutoStarter struct {
	run func(args ...string) ([]byte, error)
}

func (w *WindowsAutoStarter) schtasks(args ...string) ([]byte, error) {
	if w.run != nil {
		return w.run(args...)
	}
	return exec.Command("schtasks", args...).CombinedOutput()
}

func (w *WindowsAutoStarter) Install(execPath string) error {
	out, err := w.schtasks("/Create",
		"/TN", taskName,
		"/TR", fmt.Sprintf(`"%s" daemon`, execPath),
		"/SC", "ONLOGON",
		"/F")
	if err != nil {
		return fmt.Errorf("failed to register task %s: %w\n%s", taskName, err, out)
	}
	return nil
}

// Uninstall is a no-op when the task is not registered.
func (w *WindowsAutoStarter) Uninstall() error {
	installed, err := w.IsInstalled()
	if err != nil || !installed {
		return err
	}

	if out, err := w.schtasks("/Delete", "/TN", taskName, "/F"); err != nil {
		return fmt.Errorf("failed to remove task %s: %w\n%s", taskName, err, out)
	}
	return nil
}

func (w *WindowsAutoStarter) IsInstalled() (bool, error) {
	if _, err := w.schtasks("/Query", "/TN", taskName); err != nil {
		return false, nil
	}
	return true, nil
}
