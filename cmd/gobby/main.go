// Command gobby is the thin control CLI for gobbyd: start, stop, and
// status subcommands that manage the daemon's PID file, grounded on
// gastown's internal/daemon.IsRunning/StopDaemon helpers.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/gobby/internal/config"
)

const shutdownGracePeriod = 5 * time.Second

func pidFilePath() string {
	return filepath.Join(config.HomeDir(), "gobby.pid")
}

// isRunning mirrors gastown's daemon.IsRunning: reads the PID file and
// probes liveness with signal 0, cleaning up a stale file if the
// recorded process is gone.
func isRunning() (bool, int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0, nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidFilePath())
		return false, 0, nil
	}
	return true, pid, nil
}

func stopDaemon() error {
	running, pid, err := isRunning()
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("gobbyd is not running")
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}
	time.Sleep(shutdownGracePeriod)
	if err := process.Signal(syscall.Signal(0)); err == nil {
		_ = process.Signal(syscall.SIGKILL)
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the gobbyd daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := isRunning()
			if err != nil {
				return err
			}
			if running {
				fmt.Printf("gobbyd already running (pid %d)\n", pid)
				return nil
			}
			exe, err := exec.LookPath("gobbyd")
			if err != nil {
				return fmt.Errorf("locating gobbyd binary: %w", err)
			}
			proc := exec.Command(exe)
			proc.Stdout = nil
			proc.Stderr = nil
			if err := proc.Start(); err != nil {
				return fmt.Errorf("starting gobbyd: %w", err)
			}
			fmt.Printf("gobbyd started (pid %d)\n", proc.Process.Pid)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running gobbyd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stopDaemon(); err != nil {
				return err
			}
			fmt.Println("gobbyd stopped")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether gobbyd is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := isRunning()
			if err != nil {
				return err
			}
			if running {
				fmt.Printf("gobbyd is running (pid %d)\n", pid)
			} else {
				fmt.Println("gobbyd is not running")
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:   "gobby",
		Short: "Control the gobby daemon",
	}
	root.AddCommand(newStartCmd(), newStopCmd(), newStatusCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
