package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

// ErrExecNode is returned when a command node exits non-zero or answers with
// something other than a reply document.
var ErrExecNode = errors.New("command node failed")

// maxStderr bounds how much of a failing command's stderr ends up in errors
const maxStderr = 2048

// Exec runs a node as a local command. The command receives a RemoteRequest
// as JSON on stdin and must print a RemoteReply as JSON on stdout, the same
// documents remote workers exchange over NATS.
type Exec struct {
	node    orchestrator.NodeID
	args    []string
	dir     string
	timeout time.Duration
}

// ExecOption configures an Exec node
type ExecOption func(*Exec)

// WithWorkDir sets the command's working directory
func WithWorkDir(dir string) ExecOption {
	return func(e *Exec) { e.dir = dir }
}

// WithExecTimeout bounds each invocation
func WithExecTimeout(d time.Duration) ExecOption {
	return func(e *Exec) { e.timeout = d }
}

// NewExec creates a command node. command is split on whitespace; no shell
// is involved.
func NewExec(node orchestrator.NodeID, command string, opts ...ExecOption) (*Exec, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty command for %s", ErrExecNode, node)
	}
	e := &Exec{node: node, args: args}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run implements orchestrator.Node
func (e *Exec) Run(ctx context.Context, state *orchestrator.State) (orchestrator.Update, error) {
	input, err := json.Marshal(RemoteRequest{Node: e.node, State: state})
	if err != nil {
		return orchestrator.Update{}, fmt.Errorf("encoding request: %w", err)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.args[0], e.args[1:]...)
	cmd.Dir = e.dir
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return orchestrator.Update{}, ctx.Err()
		}
		return orchestrator.Update{}, fmt.Errorf("%w: %s: %v: %s", ErrExecNode, e.node, err, tail(stderr.String(), maxStderr))
	}

	var reply RemoteReply
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &reply); err != nil {
		return orchestrator.Update{}, fmt.Errorf("%w: %s: decoding reply: %v", ErrExecNode, e.node, err)
	}
	if reply.Error != "" {
		return orchestrator.Update{}, fmt.Errorf("%w: %s: %s", ErrExecNode, e.node, reply.Error)
	}
	if reply.Gate != nil {
		reply.Gate.NodeID = e.node
	}
	return reply.update(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
