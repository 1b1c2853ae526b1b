package watch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Builder produces the dist directory.
type Builder interface {
	Build(ctx context.Context) error
}

// NopBuilder is used when no build command is configured; the dist
// directory is maintained by something else.
type NopBuilder struct{}

func (NopBuilder) Build(context.Context) error { return nil }

// CommandBuilder runs a shell command.
type CommandBuilder struct {
	Command string
	Dir     string
	Env     []string
}

var getRuntime = func() string { return runtime.GOOS }

func (b CommandBuilder) Build(ctx context.Context) error {
	var cmd *exec.Cmd
	if getRuntime() == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/c", b.Command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", b.Command)
	}

	cmd.Dir = b.Dir
	cmd.Env = append(os.Environ(), b.Env...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build command %q: %w: %s", b.Command, err, strings.TrimSpace(output.String()))
	}

	return nil
}
