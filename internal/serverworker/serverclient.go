// Package serverworker implements the sole client of the audio server: the
// tight loop that interleaves draining server events into the graph
// mirror, applying rules, ticking plugin instances' CPU-load sampling, and
// draining the UI command channel, with a bounded wait so a quiet graph
// still wakes to service commands.
package serverworker

import (
	"context"

	"github.com/lemonxah/patchbay/internal/graph"
)

// ServerClient abstracts the audio server connection this package is the
// sole user of, behind an interface real and dummy implementations both
// satisfy.
type ServerClient interface {
	// Connect establishes the connection and starts delivering registry
	// events on the channel returned by Events. Valid to call Events only
	// after Connect returns nil.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection and closes the Events channel.
	Disconnect()

	// Events returns the channel ServerEvents arrive on. The same channel
	// is returned on every call; it is closed once, on Disconnect.
	Events() <-chan graph.ServerEvent

	// RequestLink asks the server to create a link between two ports. The
	// resulting LinkAdded arrives later on Events, not as a return value.
	RequestLink(output, input graph.PortID) error

	// RequestUnlink asks the server to remove a link.
	RequestUnlink(linkID graph.LinkID) error
}

// DummyServerClient is a ServerClient backed by no real server: it produces
// events only in answer to link requests, echoing a LinkAdded for each
// RequestLink and a LinkRemoved for each RequestUnlink onto its Events
// channel. It is not a mock of any one test's expectations, but a standing
// fake usable across the whole package's test suite. Tests that want to
// exercise other event handling push directly onto the channel returned by
// Events.
type DummyServerClient struct {
	events     chan graph.ServerEvent
	nextLinkID graph.LinkID
}

func NewDummyServerClient() *DummyServerClient {
	return &DummyServerClient{events: make(chan graph.ServerEvent, 64)}
}

func (d *DummyServerClient) Connect(ctx context.Context) error {
	return nil
}

func (d *DummyServerClient) Disconnect() {
	close(d.events)
}

func (d *DummyServerClient) Events() <-chan graph.ServerEvent {
	return d.events
}

// Push injects a ServerEvent as if the server had emitted it, for tests.
func (d *DummyServerClient) Push(e graph.ServerEvent) {
	d.events <- e
}

func (d *DummyServerClient) RequestLink(output, input graph.PortID) error {
	d.nextLinkID++
	d.events <- graph.LinkAdded{ID: d.nextLinkID, OutputPort: output, InputPort: input, Active: true}
	return nil
}

func (d *DummyServerClient) RequestUnlink(linkID graph.LinkID) error {
	d.events <- graph.LinkRemoved{ID: linkID}
	return nil
}

var _ ServerClient = (*DummyServerClient)(nil)
