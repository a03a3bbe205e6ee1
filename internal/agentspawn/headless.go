package agentspawn

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// HeadlessSpawner runs the CLI via os/exec with piped stdio and no
// controlling terminal — the spec's "headless" mode, for agents driven
// entirely by hook events with no human attached.
type HeadlessSpawner struct{}

func (s *HeadlessSpawner) Spawn(ctx context.Context, req Request) (Result, error) {
	name, args := commandFor(req)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = req.Cwd
	cmd.Env = append(os.Environ(), mergedEnv(req.Env)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = nil

	if err := cmd.Start(); err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	pid := cmd.Process.Pid

	go func() {
		_ = cmd.Wait()
	}()

	return Result{Success: true, PID: pid}, nil
}
