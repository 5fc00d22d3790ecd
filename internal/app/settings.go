package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samirkhoja/hookbin/internal/config"
	"github.com/samirkhoja/hookbin/internal/store"
	"github.com/samirkhoja/hookbin/internal/util"
)

// settingsFlags are the --config and --dir flags shared by every command.
type settingsFlags struct {
	configPath *string
	dir        *string
}

func addSettingsFlags(fs *flag.FlagSet) settingsFlags {
	return settingsFlags{
		configPath: fs.String("config", "", "path to config.yaml (default <dir>/config.yaml when present)"),
		dir:        fs.String("dir", "", "hookbin data directory (default ~/.hookbin)"),
	}
}

// load resolves the effective configuration: file, then HOOKBIN_* env, then --dir.
func (f settingsFlags) load() (config.Config, error) {
	path := strings.TrimSpace(*f.configPath)
	if path == "" {
		dir := strings.TrimSpace(*f.dir)
		if dir == "" {
			dir = util.DefaultDataDir()
		}
		candidate := util.ConfigPath(dir)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		} else if !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, fmt.Errorf("stat %s: %w", candidate, err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if d := strings.TrimSpace(*f.dir); d != "" {
		cfg.DataDir = d
	}
	return cfg, nil
}

func openEndpoints(cfg config.Config) *store.FileConfigStore {
	return store.NewFileConfigStore(util.EndpointsPath(cfg.DataDir), nil)
}

func openRequests(cfg config.Config) (*store.RequestLog, error) {
	if err := util.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return store.NewRequestLog(cfg.DataDir, nil)
}

func parseSince(input string) (time.Duration, error) {
	return config.ParseDuration(input)
}

// flagWasSet reports whether name was given on the command line.
func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// keyValueFlag collects repeated K=V flags.
type keyValueFlag map[string]string

func (kv keyValueFlag) String() string {
	parts := make([]string, 0, len(kv))
	for k, v := range kv {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (kv keyValueFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("expected KEY=VALUE, got %q", s)
	}
	kv[k] = v
	return nil
}
