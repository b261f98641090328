package probe

import (
	"bytes"
	"context"
	"os/exec"
)

// Seams for tests; production code always uses the real tools.
var (
	lookPath = exec.LookPath

	runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		err := cmd.Run()
		return stdout.Bytes(), err
	}
)
