package server

import (
	"context"
	"os/exec"
	"runtime"
	"strings"

	ragerr "localrag/internal/errors"
)

// browseFolder asks the OS for a directory via its native picker. The dialog
// is an external collaborator; the service only consumes the returned path.
func browseFolder(ctx context.Context) (string, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command",
			`Add-Type -AssemblyName System.Windows.Forms; `+
				`$d = New-Object System.Windows.Forms.FolderBrowserDialog; `+
				`if ($d.ShowDialog() -eq 'OK') { $d.SelectedPath }`)
	case "darwin":
		cmd = exec.CommandContext(ctx, "osascript", "-e",
			`POSIX path of (choose folder)`)
	default:
		if _, err := exec.LookPath("zenity"); err != nil {
			return "", ragerr.Newf(ragerr.ErrCodeNotReady,
				"no folder picker available; install zenity or enter the path manually")
		}
		cmd = exec.CommandContext(ctx, "zenity", "--file-selection", "--directory")
	}

	out, err := cmd.Output()
	if err != nil {
		return "", ragerr.New(ragerr.ErrCodeInternal, "folder picker failed or was dismissed", err)
	}
	path := strings.TrimSpace(string(out))
	if path == "" {
		return "", ragerr.ValidationError("no folder selected")
	}
	return path, nil
}
