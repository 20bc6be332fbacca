package transport

import (
	"context"
	"log/slog"
)

// CommandChannel is a bounded, non-blocking Command queue. Send never
// blocks the caller: a full channel is reported back as "busy" so the UI
// thread can surface that state and drop further optimistic edits, rather
// than stalling the event loop the way an unbounded or blocking channel
// would.
type CommandChannel struct {
	ch     chan Command
	logger *slog.Logger
}

// NewCommandChannel builds a CommandChannel with the given buffer size
// (≈256 for the UI→server-worker channel in normal operation).
func NewCommandChannel(capacity int, logger *slog.Logger) *CommandChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandChannel{ch: make(chan Command, capacity), logger: logger}
}

// TrySend attempts to enqueue cmd without blocking. It reports false (and
// logs at Warn) if the channel is full.
func (c *CommandChannel) TrySend(cmd Command) bool {
	select {
	case c.ch <- cmd:
		return true
	default:
		c.logger.Warn("command channel full, dropping command", "type", commandTypeName(cmd))
		return false
	}
}

// Receive blocks until a command arrives or ctx is done.
func (c *CommandChannel) Receive(ctx context.Context) (Command, bool) {
	select {
	case cmd := <-c.ch:
		return cmd, true
	case <-ctx.Done():
		return nil, false
	}
}

// Drain pulls every command currently queued without blocking, for
// server-worker tick loops that want to process a full batch per tick.
func (c *CommandChannel) Drain() []Command {
	var out []Command
	for {
		select {
		case cmd := <-c.ch:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

// Len reports the number of commands currently queued, for a UI "busy"
// indicator that wants to show near-full state proactively.
func (c *CommandChannel) Len() int {
	return len(c.ch)
}

// Cap reports the channel's configured capacity.
func (c *CommandChannel) Cap() int {
	return cap(c.ch)
}

// EventChannel is the server-worker→UI analogue of CommandChannel.
type EventChannel struct {
	ch     chan Event
	logger *slog.Logger
}

func NewEventChannel(capacity int, logger *slog.Logger) *EventChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventChannel{ch: make(chan Event, capacity), logger: logger}
}

func (e *EventChannel) TrySend(evt Event) bool {
	select {
	case e.ch <- evt:
		return true
	default:
		e.logger.Warn("event channel full, dropping event", "type", eventTypeName(evt))
		return false
	}
}

func (e *EventChannel) Receive(ctx context.Context) (Event, bool) {
	select {
	case evt := <-e.ch:
		return evt, true
	case <-ctx.Done():
		return nil, false
	}
}

func (e *EventChannel) Drain() []Event {
	var out []Event
	for {
		select {
		case evt := <-e.ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

// UIHostChannel is the server-worker→plugin-UI-host command channel.
type UIHostChannel struct {
	ch     chan UIHostCommand
	logger *slog.Logger
}

func NewUIHostChannel(capacity int, logger *slog.Logger) *UIHostChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &UIHostChannel{ch: make(chan UIHostCommand, capacity), logger: logger}
}

func (u *UIHostChannel) TrySend(cmd UIHostCommand) bool {
	select {
	case u.ch <- cmd:
		return true
	default:
		u.logger.Warn("plugin-ui host channel full, dropping command")
		return false
	}
}

func (u *UIHostChannel) Receive(ctx context.Context) (UIHostCommand, bool) {
	select {
	case cmd := <-u.ch:
		return cmd, true
	case <-ctx.Done():
		return nil, false
	}
}

func commandTypeName(cmd Command) string {
	switch cmd.(type) {
	case ConnectPorts:
		return "ConnectPorts"
	case DisconnectLink:
		return "DisconnectLink"
	case AddPlugin:
		return "AddPlugin"
	case RemovePlugin:
		return "RemovePlugin"
	case SetParameter:
		return "SetParameter"
	case SetBypass:
		return "SetBypass"
	case RenamePlugin:
		return "RenamePlugin"
	case OpenPluginUi:
		return "OpenPluginUi"
	case InsertOnLink:
		return "InsertOnLink"
	case ToggleRule:
		return "ToggleRule"
	case AddRule:
		return "AddRule"
	case RemoveRule:
		return "RemoveRule"
	case SnapshotRules:
		return "SnapshotRules"
	case ApplyRulesNow:
		return "ApplyRulesNow"
	case SetPatchbayEnabled:
		return "SetPatchbayEnabled"
	case SetDefaultNode:
		return "SetDefaultNode"
	case Shutdown:
		return "Shutdown"
	default:
		return "unknown"
	}
}

func eventTypeName(evt Event) string {
	switch evt.(type) {
	case GraphChanged:
		return "GraphChanged"
	case Error:
		return "Error"
	case ShowWindow:
		return "ShowWindow"
	case HideWindow:
		return "HideWindow"
	case Quit:
		return "Quit"
	case CpuSample:
		return "CpuSample"
	default:
		return "unknown"
	}
}
