package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/qaforge/qasandbox/internal/sberr"
)

// Attach opens an interactive shell in the sandbox on the caller's
// terminal. It shells out to the docker CLI for the exec-with-TTY plumbing
// and bridges the PTY to stdin/stdout, forwarding window resizes.
func (m *Manager) Attach(ctx context.Context, id string) error {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !rec.Running {
		return fmt.Errorf("sandbox %s is terminated: %w", rec.ShortID, sberr.ErrNotFound)
	}

	cmd := exec.CommandContext(ctx, "docker", "exec", "-it", "-w", workdir, rec.ID, "/bin/sh")
	ptyFile, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("pty start: %w", err)
	}
	defer ptyFile.Close()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			pty.InheritSize(os.Stdin, ptyFile)
		}
	}()
	winch <- syscall.SIGWINCH

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err == nil {
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	go io.Copy(ptyFile, os.Stdin)
	io.Copy(os.Stdout, ptyFile)

	return cmd.Wait()
}
