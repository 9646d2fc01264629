package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirEnv overrides the default data directory
const DataDirEnv = "BLELINK_DIR"

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "blelink-data")
	}
	return filepath.Join(home, ".blelink-data")
}

// GetDeviceDir returns the per-device directory (advertising data, journals)
func GetDeviceDir(deviceID string) string {
	return filepath.Join(GetDataDir(), deviceID)
}

// EnsureDeviceDir creates the per-device directory if needed
func EnsureDeviceDir(deviceID string) (string, error) {
	dir := GetDeviceDir(deviceID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create device dir %s: %w", dir, err)
	}
	return dir, nil
}

// GetSocketDir returns the directory where simulated radio sockets live,
// creating it if needed
func GetSocketDir() (string, error) {
	socketDir := filepath.Join(GetDataDir(), "sockets")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create socket dir %s: %w", socketDir, err)
	}
	return socketDir, nil
}

// ShortID returns the first 8 characters of an identifier for log prefixes
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
