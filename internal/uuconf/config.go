// Package uuconf holds the subset of system/port/command configuration the
// spool job lifecycle needs: where the spool lives, what this system is
// called, which commands uuxqt may run, and which paths uux may reference.
// It is deliberately not a reimplementation of the real Taylor/V2/HDB
// uuconf file formats — SPEC_FULL.md scopes that parser out — just the
// handful of settings this subsystem actually consults.
package uuconf

import (
	"errors"
	"fmt"
)

// SystemInfo describes one remote system this node exchanges work with.
type SystemInfo struct {
	Name          string            `toml:"name"`
	Transport     string            `toml:"transport"`      // transport name; not consulted by this module's code
	TransportOpts map[string]string `toml:"transport_opts"`
	MaxGrade      byte              `toml:"max_grade"`  // must be alphanumeric if set; not otherwise enforced
	CalledLogin   string            `toml:"called_login"`
	SendPaths     []string          `toml:"send_paths"`    // path prefixes this system may request for L.sys-style send
	ReceivePaths  []string          `toml:"receive_paths"` // path prefixes this system may write into locally
	Commands      []string          `toml:"commands"`      // per-peer uuxqt command allow-list; falls back to Config.Commands if empty
	SearchPath    []string          `toml:"search_path"`   // directories uuxqt searches for this peer's commands; falls back to Config.DefaultSearchPath
}

// PortInfo names a transport endpoint a system may be reached through.
// Concrete dial/listen behavior lives behind internal/transport; this is
// just the configuration record pointing at one.
type PortInfo struct {
	Name      string            `toml:"name"`
	Transport string            `toml:"transport"`
	Options   map[string]string `toml:"options"`
}

// MailerConfig configures how job-completion notifications are sent.
type MailerConfig struct {
	// Command is an argv template, e.g. ["/usr/sbin/sendmail", "-t"]. It is
	// not used by internal/mailer, which always writes local mail to the
	// mailbox file directly.
	Command      []string `toml:"command"`
	FromAddress  string   `toml:"from_address"`
	LocalMailDir string   `toml:"local_mail_dir"`
}

// MetricsConfig mirrors the teacher's Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Config is the full configuration surface for uux, uuxqt, and uustat.
type Config struct {
	LocalName string `toml:"local_name"` // this system's own name, used in X-file names
	SpoolDir  string `toml:"spool_dir"`
	LogLevel  string `toml:"log_level"`

	Systems []SystemInfo `toml:"systems"`
	Ports   []PortInfo   `toml:"ports"`

	// Commands is the default set of local command names uuxqt is
	// permitted to run when a system has no narrower allow-list of its
	// own — spec.md §4.5's "PERMCMD"-style command policy.
	Commands []string `toml:"commands"`

	Mailer  MailerConfig  `toml:"mailer"`
	Metrics MetricsConfig `toml:"metrics"`

	// MaxExecuting is checked by Validate to be positive. The Executor does
	// not consult it; concurrency is limited only by the per-command
	// LCK.XQT.<cmd> serialization.
	MaxExecuting int `toml:"max_executing"`

	// DefaultSearchPath is where uuxqt looks for a peer's commands when the
	// peer's own SystemInfo.SearchPath is empty.
	DefaultSearchPath []string `toml:"default_search_path"`

	// AllowUnknownSystems permits uuxqt to process X-files received from a
	// system with no matching SystemInfo entry, using Config.Commands and
	// DefaultSearchPath as the effective policy. Default false: spec.md
	// §4.5 step 3 treats an unrecognized sender as reason to skip the file.
	AllowUnknownSystems bool `toml:"allow_unknown_systems"`

	// AdminAddress is where uustat -M sends job-killed notifications.
	AdminAddress string `toml:"admin_address"`
}

// Default returns a Config with sensible defaults — an empty system table,
// a conservative single-command allow-list, and the spool rooted under
// /var/spool/uucp the way the traditional install does.
func Default() Config {
	return Config{
		LocalName:         "localhost",
		SpoolDir:          "/var/spool/uucp",
		LogLevel:          "info",
		Commands:          []string{"rmail"},
		MaxExecuting:      4,
		DefaultSearchPath: []string{"/usr/bin", "/bin"},
		AdminAddress:      "uucp",
		Mailer: MailerConfig{
			LocalMailDir: "/var/mail",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9111",
			Path:    "/metrics",
		},
	}
}

// Validate reports whether c is usable.
func (c *Config) Validate() error {
	if c.LocalName == "" {
		return errors.New("local_name is required")
	}
	if c.SpoolDir == "" {
		return errors.New("spool_dir is required")
	}
	if len(c.Commands) == 0 {
		return errors.New("at least one entry in commands is required")
	}
	if c.MaxExecuting <= 0 {
		return errors.New("max_executing must be positive")
	}
	seen := make(map[string]bool, len(c.Systems))
	for i, sys := range c.Systems {
		if sys.Name == "" {
			return fmt.Errorf("systems[%d]: name is required", i)
		}
		if seen[sys.Name] {
			return fmt.Errorf("systems[%d]: duplicate system name %q", i, sys.Name)
		}
		seen[sys.Name] = true
		if sys.MaxGrade != 0 && !isGradeByte(sys.MaxGrade) {
			return fmt.Errorf("systems[%d]: invalid max_grade %q", i, sys.MaxGrade)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return errors.New("metrics address is required when metrics are enabled")
	}
	return nil
}

func isGradeByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// System returns the configured SystemInfo for name, or false if unknown.
func (c *Config) System(name string) (SystemInfo, bool) {
	for _, s := range c.Systems {
		if s.Name == name {
			return s, true
		}
	}
	return SystemInfo{}, false
}

// CommandsFor returns the command allow-list that applies to a job bound
// for peer: the system's own list if it has one, else the global default.
func (c *Config) CommandsFor(peer string) []string {
	if sys, ok := c.System(peer); ok && len(sys.Commands) > 0 {
		return sys.Commands
	}
	return c.Commands
}

// CommandAllowed reports whether cmd may be run on behalf of peer. The
// literal allow-list entry "ALL" permits any command, matching the
// traditional uuconf PERMCMD wildcard.
func (c *Config) CommandAllowed(peer, cmd string) bool {
	for _, allowed := range c.CommandsFor(peer) {
		if allowed == "ALL" || allowed == cmd {
			return true
		}
	}
	return false
}

// SearchPathFor returns the directories uuxqt should search for peer's
// commands: the system's own list if it has one, else the global default.
func (c *Config) SearchPathFor(peer string) []string {
	if sys, ok := c.System(peer); ok && len(sys.SearchPath) > 0 {
		return sys.SearchPath
	}
	return c.DefaultSearchPath
}
