// Package pathutil resolves user-supplied filesystem paths for config,
// dotenv and export files.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandUserAndEnv expands $VAR and ${VAR} tokens and a leading "~/" (or
// "~\") to the current user's home directory. The result is not made
// absolute.
func ExpandUserAndEnv(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	p = os.ExpandEnv(p)
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch {
	case len(p) == 1:
		return home, nil
	case p[1] == '/' || p[1] == '\\':
		return filepath.Join(home, p[2:]), nil
	}
	return p, nil
}

// Resolve expands p like ExpandUserAndEnv and returns it as a clean
// absolute path. An empty p resolves to "".
func Resolve(p string) (string, error) {
	expanded, err := ExpandUserAndEnv(p)
	if err != nil || expanded == "" {
		return expanded, err
	}
	return filepath.Abs(expanded)
}
