// Package shell runs external programs (the CASA executable in practice)
// on the local machine or on a remote host over SSH.
package shell

import (
	"bytes"
	"context"
	"io"
	"os/exec"
)

// Cmd is one prepared process invocation.
type Cmd interface {
	// Run waits for the process and returns stdout and stderr interleaved.
	Run() ([]byte, error)

	SetStdin(stdin []byte)
	SetDir(dir string)

	// Tee copies output to w as the process produces it, on top of
	// capturing it for Run's result. CASA sessions run for hours.
	Tee(w io.Writer)
}

// Builder prepares commands. Cancelling ctx kills the process.
type Builder interface {
	Build(ctx context.Context, name string, args ...string) Cmd
}

// ExecBuilder builds commands backed by os/exec.
type ExecBuilder struct{}

func (ExecBuilder) Build(ctx context.Context, name string, args ...string) Cmd {
	return &execCmd{cmd: exec.CommandContext(ctx, name, args...)}
}

type execCmd struct {
	cmd *exec.Cmd
	tee io.Writer
}

func (c *execCmd) Run() ([]byte, error) {
	var buf bytes.Buffer
	var out io.Writer = &buf
	if c.tee != nil {
		out = io.MultiWriter(&buf, c.tee)
	}
	// A single writer shared by both streams is written from one goroutine
	// at a time.
	c.cmd.Stdout = out
	c.cmd.Stderr = out
	err := c.cmd.Run()
	return buf.Bytes(), err
}

func (c *execCmd) SetStdin(stdin []byte) { c.cmd.Stdin = bytes.NewReader(stdin) }
func (c *execCmd) SetDir(dir string)     { c.cmd.Dir = dir }
func (c *execCmd) Tee(w io.Writer)       { c.tee = w }

// FakeCmd records how it was prepared and replays canned output.
type FakeCmd struct {
	Name   string
	Args   []string
	Output []byte
	Err    error

	Stdin []byte
	Dir   string
	Ran   bool
	tee   io.Writer
}

func (c *FakeCmd) Run() ([]byte, error) {
	c.Ran = true
	if c.tee != nil {
		_, _ = c.tee.Write(c.Output)
	}
	return c.Output, c.Err
}

func (c *FakeCmd) SetStdin(stdin []byte) { c.Stdin = stdin }
func (c *FakeCmd) SetDir(dir string)     { c.Dir = dir }
func (c *FakeCmd) Tee(w io.Writer)       { c.tee = w }

// Teed reports whether output is being copied somewhere.
func (c *FakeCmd) Teed() bool { return c.tee != nil }

// FakeBuilder records every command it builds. Respond, when set, fills in
// the canned result of each command before it is returned.
type FakeBuilder struct {
	Cmds    []*FakeCmd
	Respond func(c *FakeCmd)
}

func (b *FakeBuilder) Build(_ context.Context, name string, args ...string) Cmd {
	c := &FakeCmd{Name: name, Args: args}
	if b.Respond != nil {
		b.Respond(c)
	}
	b.Cmds = append(b.Cmds, c)
	return c
}

// Last returns the most recently built command, or nil.
func (b *FakeBuilder) Last() *FakeCmd {
	if len(b.Cmds) == 0 {
		return nil
	}
	return b.Cmds[len(b.Cmds)-1]
}
