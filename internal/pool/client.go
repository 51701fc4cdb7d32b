package pool

import "github.com/tos-network/tos-miner/internal/mining"

// Client is the protocol-level pool collaborator. Implementations own their
// I/O goroutines and deliver events through the registered callbacks; all
// commands are fire-and-forget, with success or failure surfacing later as
// an event rather than a return value.
type Client interface {
	// Connect initiates a connection attempt to the configured endpoint.
	Connect()

	// Disconnect tears down the current connection if any.
	Disconnect()

	// IsConnected reports whether the client holds an established session.
	IsConnected() bool

	// IsPending reports whether the client is mid-connect or
	// mid-disconnect. No connection action should be taken while pending.
	IsPending() bool

	// SetEndpoint selects the endpoint for the next Connect.
	SetEndpoint(ep Endpoint)

	// ActiveEndpoint describes the resolved remote address for display.
	ActiveEndpoint() string

	// SubmitSolution sends a found solution. Must only be called while
	// connected.
	SubmitSolution(sol mining.Solution)

	// SubmitHashrate reports farm throughput, pre-encoded per the pool's
	// wire format.
	SubmitHashrate(rate string)

	OnConnected(fn func())
	OnDisconnected(fn func())
	OnWorkReceived(fn func(work mining.Work))
	OnSolutionAccepted(fn func(stale bool))
	OnSolutionRejected(fn func(stale bool))
}
