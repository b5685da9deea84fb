// Package metrics provides interfaces and implementations for collecting
// spool job-lifecycle metrics. This package defines the Collector
// interface for recording metrics and the Server interface for exposing
// them over HTTP.
package metrics

import "context"

// Collector defines the interface for recording uux/uuxqt/uustat metrics.
type Collector interface {
	// JobSubmitted records a work item uux has queued for peer at grade.
	JobSubmitted(peer string, grade byte)

	// JobQueued adjusts the current backlog gauge for peer by delta (+1 on
	// submit, -1 once a transport picks the job up).
	JobQueued(peer string, delta int)

	// CommandExecuted records one uuxqt run of a local command.
	CommandExecuted(command string, success bool, duration float64)

	// BytesTransferred records payload bytes moved for a peer in either
	// direction.
	BytesTransferred(peer string, direction string, bytes int64)

	// CallAttempt records the outcome of a transport's attempt to reach peer.
	CallAttempt(peer string, status string)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
