package util

import (
	"os"
	"path/filepath"
)

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hookbin"
	}
	return filepath.Join(home, ".hookbin")
}

func ConfigPath(dir string) string {
	return filepath.Join(dir, "config.yaml")
}

func EndpointsPath(dir string) string {
	return filepath.Join(dir, "endpoints.yaml")
}

func RequestsPath(dir string) string {
	return filepath.Join(dir, "requests.jsonl")
}

func ForwardsPath(dir string) string {
	return filepath.Join(dir, "forwards.jsonl")
}

// BodiesDir holds raw request bodies, one file per request id.
func BodiesDir(dir string) string {
	return filepath.Join(dir, "bodies")
}
