// Package transport abstracts the connection layer this subsystem hands
// queued work off to. spec.md's own REDESIGN FLAGS call out the original
// function-table dispatch on port type as a transport-layer concern the
// Submitter should not see directly: here it is reduced to a single
// capability, spawning a transport process for a target, or for any ready
// peer.
package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/uucp-go/uucp/internal/uerr"
)

// Target names who the transport should try to reach.
type Target struct {
	Peer string // "" means AnyReady
}

// SinglePeer targets exactly one named system.
func SinglePeer(name string) Target { return Target{Peer: name} }

// AnyReady targets whichever queued peer is next due for a call.
func AnyReady() Target { return Target{} }

func (t Target) String() string {
	if t.Peer == "" {
		return "any"
	}
	return t.Peer
}

// Transport hands queued spool work to the connection layer.
type Transport interface {
	// Spawn starts (or signals) a transport run for target and waits for
	// it to finish. It does not interpret the transport's outcome beyond
	// exit status; status-store bookkeeping is the caller's job.
	Spawn(ctx context.Context, target Target) error
}

// ExecTransport shells out to an external transport binary, the role the
// original implementation's `uucico` command plays. This is the only
// Transport implementation this package ships; it is deliberately thin —
// everything protocol-specific is out of scope per spec.md §1.
type ExecTransport struct {
	// Path to the transport binary; defaults to "uucico" on the PATH.
	Path string
	// ExtraArgs are appended after the peer/any selector flag.
	ExtraArgs []string
}

// Spawn runs the configured binary with `-s <peer>` for a single target or
// `-r1` for any ready peer, per spec.md's example invocation.
func (e ExecTransport) Spawn(ctx context.Context, target Target) error {
	path := e.Path
	if path == "" {
		path = "uucico"
	}

	var args []string
	if target.Peer != "" {
		args = append(args, "-s", target.Peer)
	} else {
		args = append(args, "-r1")
	}
	args = append(args, e.ExtraArgs...)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return uerr.New(uerr.KindTransportIO, "transport.Spawn", fmt.Errorf("%s %v: %w", path, args, err))
	}
	return nil
}
