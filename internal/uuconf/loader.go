package uuconf

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values shared by the uux, uuxqt, and
// uustat entry points, following the teacher's ParseFlags/Load/ApplyFlags
// split so each binary's main package stays a thin wrapper.
type Flags struct {
	ConfigPath string
	LocalName  string
	SpoolDir   string
	LogLevel   string
}

// ParseFlags registers the shared flags against the default flag.FlagSet
// and parses argv. Callers that need additional tool-specific flags should
// call flag.StringVar et al. before ParseFlags.
func ParseFlags() *Flags {
	f := &Flags{}
	flag.StringVar(&f.ConfigPath, "config", "/etc/uucp/uucp.toml", "Path to configuration file")
	flag.StringVar(&f.LocalName, "local-name", "", "Override this system's own name")
	flag.StringVar(&f.SpoolDir, "spool", "", "Override the spool directory")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()
	return f
}

// Load parses a TOML configuration file, returning Default() unmodified if
// the file does not exist.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// ApplyFlags overlays non-empty flag values onto cfg.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.LocalName != "" {
		cfg.LocalName = f.LocalName
	}
	if f.SpoolDir != "" {
		cfg.SpoolDir = f.SpoolDir
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	return cfg
}

// LoadWithFlags loads the file named by f.ConfigPath and applies flag
// overrides on top.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}
