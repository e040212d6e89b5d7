package client

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	projectOrg  = "fleetdesk"
	projectName = "portal"
)

// CLIConfigDir returns the CLI config directory
// ~/.config/fleetdesk/portal/ (Unix) or %APPDATA%\fleetdesk\portal\ (Windows)
func CLIConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), projectOrg, projectName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", projectOrg, projectName)
}

// CLIConfigFile returns the path of the config file
func CLIConfigFile() string {
	return filepath.Join(CLIConfigDir(), "cli.yml")
}

// CLILogDir returns the CLI log directory
// ~/.local/log/fleetdesk/portal/ (Unix) or %LOCALAPPDATA%\fleetdesk\portal\log\ (Windows)
func CLILogDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("LOCALAPPDATA"), projectOrg, projectName, "log")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "log", projectOrg, projectName)
}
