package app

import (
	"fmt"
	"os"
	"strings"
)

// Version is set at build time via:
// go build -ldflags "-X github.com/samirkhoja/hookbin/internal/app.Version=vX.Y.Z" ./cmd/hookbin
var Version = "dev"

func runVersion(args []string) int {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: hookbin version")
		return 1
	}
	fmt.Fprintln(out, formatVersion())
	return 0
}

func formatVersion() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		v = "dev"
	}
	return fmt.Sprintf("hookbin version %s", v)
}
