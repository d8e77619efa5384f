package mcp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Transport carries newline-delimited JSON frames to and from a tool server.
// Keeping the protocol state machine behind this interface lets tests inject
// a fake transport instead of a real subprocess.
type Transport interface {
	WriteLine(line []byte) error
	ReadLine() ([]byte, error)
	Kill() error
}

// stdioProcess is the real subprocess-backed transport.
type stdioProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	writeMu sync.Mutex
	killed  sync.Once
}

// maxLineSize bounds a single response line; chart payloads can be large.
const maxLineSize = 4 * 1024 * 1024

func spawnProcess(cfg ServerConfig) (Transport, error) {
	if cfg.Command == "" {
		return nil, &LaunchError{Command: cfg.Command, Err: fmt.Errorf("empty command")}
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for key, value := range cfg.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Command: cfg.Command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Command: cfg.Command, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Command: cfg.Command, Err: err}
	}

	return &stdioProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
	}, nil
}

func (p *stdioProcess) WriteLine(line []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(line); err != nil {
		return err
	}
	_, err := p.stdin.Write([]byte{'\n'})
	return err
}

func (p *stdioProcess) ReadLine() ([]byte, error) {
	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) > maxLineSize {
		return nil, fmt.Errorf("response line exceeds %d bytes", maxLineSize)
	}
	return line, nil
}

func (p *stdioProcess) Kill() error {
	var err error
	p.killed.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
			_, err = p.cmd.Process.Wait()
		}
	})
	return err
}
