package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes an external tool and returns its standard output.
// Implementations must stop the process when ctx is done.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with exec.CommandContext so a cancelled context
// kills the child. On a non-zero exit the stdout captured so far is returned
// together with an error carrying stderr.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = exitErr.Error()
		}
		return stdout.Bytes(), fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), msg)
	}
	return stdout.Bytes(), fmt.Errorf("run %s: %w", name, err)
}
