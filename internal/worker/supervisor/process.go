package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Process is a launched execution server.
type Process interface {
	Pid() int
	// Terminate stops the process and every descendant it spawned.
	Terminate() error
}

// Launcher starts the execution server.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// ExecLauncher runs Command with Args inside Dir.
type ExecLauncher struct {
	Command     string
	Args        []string
	Dir         string
	Stdout      io.Writer
	Stderr      io.Writer
	StopTimeout time.Duration
}

func (l ExecLauncher) Launch(_ context.Context) (Process, error) {
	// Not bound to ctx: the child outlives the health check and is stopped through
	// its handle.
	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = l.Dir
	cmd.Stdout = writerOr(l.Stdout, os.Stdout)
	cmd.Stderr = writerOr(l.Stderr, os.Stderr)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Command, err)
	}

	p := &execProcess{
		cmd:         cmd,
		done:        make(chan struct{}),
		stopTimeout: l.StopTimeout,
	}
	if p.stopTimeout <= 0 {
		p.stopTimeout = 10 * time.Second
	}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w == nil {
		return fallback
	}
	return w
}

type execProcess struct {
	cmd         *exec.Cmd
	done        chan struct{}
	stopTimeout time.Duration
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

// Terminate sends SIGTERM to the descendants (deepest first) and the child,
// then kills whatever is left after the stop timeout.
func (p *execProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	tree := processTree(int32(p.Pid()))
	for _, d := range tree {
		_ = d.Terminate()
	}
	if root, err := process.NewProcess(int32(p.Pid())); err == nil {
		_ = root.Terminate()
	} else {
		_ = p.cmd.Process.Signal(os.Interrupt)
	}

	timer := time.NewTimer(p.stopTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	for _, d := range tree {
		_ = d.Kill()
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", p.Pid(), err)
	}
	<-p.done
	return nil
}

// processTree lists the descendants of pid, deepest first.
func processTree(pid int32) []*process.Process {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	return descendants(root)
}

func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, c := range children {
		out = append(out, descendants(c)...)
		out = append(out, c)
	}
	return out
}
