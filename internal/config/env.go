// Package config resolves the process environment and owns the on-disk
// layout and YAML state files shared by the node and master services.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Environment variables. Malformed values never abort startup; they are
// logged and replaced by the documented default.
const (
	EnvBaseDir       = "BASE_DIR"
	EnvHost          = "HOST"
	EnvPort          = "PORT"
	EnvMasterAddress = "MASTER_ADDRESS"
)

const (
	DefaultHost       = "0.0.0.0"
	DefaultMasterPort = 7700
	DefaultEventsPort = 7701
	DefaultNodePort   = 7702

	// MinPort excludes the privileged range.
	MinPort = 1024
	MaxPort = 65535
)

// DefaultMasterAddress is where nodes and the analytics bridge look for
// the master when MASTER_ADDRESS is unset.
var DefaultMasterAddress = fmt.Sprintf("127.0.0.1:%d", DefaultMasterPort)

var ipv4Pattern = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)

// ValidateHost checks a dotted-quad IPv4 literal.
func ValidateHost(host string) error {
	m := ipv4Pattern.FindStringSubmatch(host)
	if m == nil {
		return fmt.Errorf("host %q is not a dotted-quad IPv4 address", host)
	}
	for _, octet := range m[1:] {
		n, err := strconv.Atoi(octet)
		if err != nil || n > 255 {
			return fmt.Errorf("host %q has an octet out of range", host)
		}
	}
	return nil
}

// ValidatePort checks an unprivileged port number.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("port %d outside [%d, %d]", port, MinPort, MaxPort)
	}
	return nil
}

// ValidateAddress checks a "host:port" dial target: IPv4 host, any real
// port. The privileged range is allowed here, unlike for listen ports.
func ValidateAddress(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("address %q is not host:port", addr)
	}
	if err := ValidateHost(host); err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > MaxPort {
		return fmt.Errorf("address %q has an invalid port", addr)
	}
	return nil
}

// ResolveHost reads HOST, falling back to def on absence or malformed
// values.
func ResolveHost(def string) string {
	raw, ok := os.LookupEnv(EnvHost)
	if !ok || raw == "" {
		return def
	}
	if err := ValidateHost(raw); err != nil {
		slog.Warn("ignoring invalid HOST", "value", raw, "error", err, "default", def)
		return def
	}
	return raw
}

// ResolvePort reads PORT, falling back to def on absence, non-integer or
// out-of-range values.
func ResolvePort(def int) int {
	raw, ok := os.LookupEnv(EnvPort)
	if !ok || raw == "" {
		return def
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("ignoring non-integer PORT", "value", raw, "default", def)
		return def
	}
	if err := ValidatePort(port); err != nil {
		slog.Warn("ignoring out-of-range PORT", "value", port, "error", err, "default", def)
		return def
	}
	return port
}

// ResolveMasterAddress reads MASTER_ADDRESS, falling back to the default
// master endpoint on absence or malformed values.
func ResolveMasterAddress() string {
	raw, ok := os.LookupEnv(EnvMasterAddress)
	if !ok || raw == "" {
		return DefaultMasterAddress
	}
	if err := ValidateAddress(raw); err != nil {
		slog.Warn("ignoring invalid MASTER_ADDRESS", "value", raw, "error", err, "default", DefaultMasterAddress)
		return DefaultMasterAddress
	}
	return raw
}

// ResolveBaseDir reads BASE_DIR, defaulting to ~/.local/share/argos and
// finally the system temp dir when no home directory can be resolved.
func ResolveBaseDir() string {
	if raw, ok := os.LookupEnv(EnvBaseDir); ok && raw != "" {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fallback := filepath.Join(os.TempDir(), "argos")
		slog.Warn("no home directory, using temp base dir", "dir", fallback, "error", err)
		return fallback
	}
	return filepath.Join(home, ".local", "share", "argos")
}
