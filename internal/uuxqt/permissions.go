package uuxqt

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/uucp-go/uucp/internal/uerr"
)

// pathAllowed reports whether path falls under one of allow's prefixes, the
// check behind SystemInfo.SendPaths/ReceivePaths (spec.md §4.5 steps 10-12).
// The literal entry "ALL" permits any path; an empty allow-list denies
// everything, since the traditional uuconf default is to deny what it does
// not explicitly name.
func pathAllowed(path string, allow []string) bool {
	clean := filepath.Clean(path)
	for _, prefix := range allow {
		if prefix == "ALL" {
			return true
		}
		if clean == prefix || strings.HasPrefix(clean, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// resolveExecutable searches dirs in order for an executable regular file
// named cmd, the stand-in for SystemInfo's "search path" (spec.md §4.5 step
// 10).
func resolveExecutable(cmd string, dirs []string) (string, error) {
	if filepath.IsAbs(cmd) {
		if fi, err := os.Stat(cmd); err == nil && fi.Mode().IsRegular() && fi.Mode()&0111 != 0 {
			return cmd, nil
		}
		return "", uerr.New(uerr.KindNotFound, "resolveExecutable", os.ErrNotExist)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, cmd)
		fi, err := os.Stat(candidate)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if fi.Mode()&0111 != 0 {
			return candidate, nil
		}
	}
	return "", uerr.New(uerr.KindNotFound, "resolveExecutable", os.ErrNotExist)
}
