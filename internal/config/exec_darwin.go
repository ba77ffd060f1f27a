//go:build darwin

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runTool runs a macOS helper binary and returns its trimmed stdout. A
// non-zero exit code is returned alongside the error so callers can tell
// "missing" apart from a real failure.
var runTool = func(name string, args ...string) (string, int, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if err == nil {
		return out, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), fmt.Errorf("%s %s: %w: %s", name, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, -1, fmt.Errorf("%s %s: %w", name, args[0], err)
}
