package agentspawn

import (
	"context"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// EmbeddedSpawner runs the CLI under a pty in-process, capturing its
// output into the daemon's own log rather than a visible terminal —
// the spec's "embedded" mode.
type EmbeddedSpawner struct {
	// LogWriter receives the agent's combined pty output, when set.
	LogWriter func(sessionID string, p []byte)
}

func (s *EmbeddedSpawner) Spawn(ctx context.Context, req Request) (Result, error) {
	name, args := commandFor(req)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = req.Cwd
	cmd.Env = append(os.Environ(), mergedEnv(req.Env)...)

	f, err := pty.Start(cmd)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	pid := cmd.Process.Pid

	go func() {
		defer f.Close()
		buf := make([]byte, 4096)
		for {
			n, err := f.Read(buf)
			if n > 0 && s.LogWriter != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				s.LogWriter(req.SessionID, chunk)
			}
			if err != nil {
				return
			}
		}
	}()
	go func() { _ = cmd.Wait() }()

	return Result{Success: true, PID: pid}, nil
}
