package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.guestmail.poller"
	systemdUnit  = "guestmail.service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install guestmail as a user service (systemd or launchd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write a service file that runs 'guestmail run' at login",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, content, hint, err := serviceFile(runtime.GOOS, home, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			for _, dir := range []string{filepath.Dir(path), filepath.Join(home, ".guestmail", "logs")} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Printf("Service installed: %s\n%s\n", path, hint)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, _, _, err := serviceFile(runtime.GOOS, home, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	})
	return cmd
}

// serviceFile renders the unit for goos and returns where it belongs plus
// the commands to start it.
func serviceFile(goos, home, execPath, cfgPath string) (path, content, hint string, err error) {
	r := strings.NewReplacer("{{EXEC}}", execPath, "{{CONFIG}}", cfgPath, "{{LABEL}}", launchdLabel,
		"{{LOG}}", filepath.Join(home, ".guestmail", "logs", "guestmail.log"))
	switch goos {
	case "linux":
		path = filepath.Join(home, ".config", "systemd", "user", systemdUnit)
		hint = "Enable with: systemctl --user enable --now guestmail"
		return path, r.Replace(systemdTemplate), hint, nil
	case "darwin":
		path = filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		hint = "Start with: launchctl load " + path
		return path, r.Replace(launchdTemplate), hint, nil
	}
	return "", "", "", fmt.Errorf("unsupported OS: %s (supported: linux, darwin)", goos)
}

const systemdTemplate = `[Unit]
Description=guestmail inquiry autoresponder
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=30

[Install]
WantedBy=default.target
`

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>
`
