package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/qaforge/qasandbox/internal/sberr"
)

// DefaultExecTimeout bounds commands whose caller did not pick a timeout.
const DefaultExecTimeout = 5 * time.Minute

type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs a command in the sandbox's default shell and returns its
// demultiplexed output and exit code. On timeout the in-container process
// tree is killed and the partial output collected so far is returned
// alongside ErrExecutionTimeout.
func (m *Manager) Exec(ctx context.Context, id, command string, timeout time.Duration) (ExecResult, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return ExecResult{}, err
	}
	if !rec.Running {
		return ExecResult{}, fmt.Errorf("sandbox %s is terminated: %w", rec.ShortID, sberr.ErrNotFound)
	}

	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	idResp, err := m.cli.ContainerExecCreate(ctx, rec.ID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", deadlineCommand(command, timeout)},
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workdir,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ExecResult{}, fmt.Errorf("sandbox %s: %w", rec.ShortID, sberr.ErrNotFound)
		}
		return ExecResult{}, fmt.Errorf("exec create in %s: %w", rec.ShortID, err)
	}

	attach, err := m.cli.ContainerExecAttach(ctx, idResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec attach in %s: %w", rec.ShortID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case <-ctx.Done():
		// Close the stream, then wait for the copier so the buffers are
		// quiescent before we hand back partial output. The process
		// itself dies to timeout(1) inside the container; closing the
		// attach connection alone would leave it running.
		attach.Close()
		<-done
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1},
			fmt.Errorf("command in %s exceeded %s: %w", rec.ShortID, timeout, sberr.ErrExecutionTimeout)
	case err := <-done:
		if err != nil {
			return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1},
				fmt.Errorf("exec stream in %s: %w", rec.ShortID, err)
		}
	}

	insp, err := m.cli.ContainerExecInspect(ctx, idResp.ID)
	if err != nil {
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1},
			fmt.Errorf("exec inspect in %s: %w", rec.ShortID, err)
	}
	return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: insp.ExitCode}, nil
}

// deadlineCommand wraps a command in timeout(1) so the deadline kills the
// process tree inside the container. The in-container deadline is rounded
// up to whole seconds, so the client-side context always expires first and
// reports the timeout.
func deadlineCommand(command string, timeout time.Duration) string {
	secs := int64(timeout / time.Second)
	if timeout%time.Second != 0 {
		secs++
	}
	return fmt.Sprintf("timeout -s KILL %d /bin/sh -c %s", secs, shellQuote(command))
}

// shellQuote makes a path safe to interpolate into a /bin/sh command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
