// Package sni implements tray.Service as a freedesktop StatusNotifierItem
// exported over the D-Bus session bus, using the standard connect/export/
// request-name sequence for exposing a D-Bus object on the session bus.
package sni

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

const (
	objectPath    = dbus.ObjectPath("/StatusNotifierItem")
	interfaceName = "org.kde.StatusNotifierItem"
	watcherName   = "org.kde.StatusNotifierWatcher"
)

const introspectXML = `
<node>
  <interface name="org.kde.StatusNotifierItem">
    <method name="Activate">
      <arg name="x" type="i" direction="in"/>
      <arg name="y" type="i" direction="in"/>
    </method>
    <method name="SecondaryActivate">
      <arg name="x" type="i" direction="in"/>
      <arg name="y" type="i" direction="in"/>
    </method>
    <method name="ContextMenu">
      <arg name="x" type="i" direction="in"/>
      <arg name="y" type="i" direction="in"/>
    </method>
    <property name="Category" type="s" access="read"/>
    <property name="Id" type="s" access="read"/>
    <property name="Title" type="s" access="read"/>
    <property name="Status" type="s" access="read"/>
    <property name="IconName" type="s" access="read"/>
  </interface>
</node>`

// Item is a StatusNotifierItem. Activate (left-click) and SecondaryActivate
// (middle-click) both surface as the OnActivate callback. The item exports
// no menu over D-Bus, so the notifier host shows no Show or Quit entries for
// it; OnQuit runs only when Quit is called from Go.
// ContextMenu is exported only so notifier hosts that call it unconditionally
// don't see a method-not-found error.
type Item struct {
	logger  *slog.Logger
	appName string

	mu         sync.Mutex
	conn       *dbus.Conn
	onActivate func()
	onQuit     func()
	done       chan struct{}
}

// New builds an Item. appName is used as the StatusNotifierItem "Id" and
// "Title" properties; the well-known bus name is built from the process id.
func New(appName string, logger *slog.Logger) *Item {
	if logger == nil {
		logger = slog.Default()
	}
	return &Item{logger: logger, appName: appName, done: make(chan struct{})}
}

func (it *Item) OnActivate(fn func()) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.onActivate = fn
}

func (it *Item) OnQuit(fn func()) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.onQuit = fn
}

// Run connects to the session bus, exports this item's methods and
// properties, and registers with the freedesktop StatusNotifierWatcher.
// Blocks until Close is called.
func (it *Item) Run() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("sni: connecting to session bus: %w", err)
	}
	it.mu.Lock()
	it.conn = conn
	it.mu.Unlock()

	busName := fmt.Sprintf("org.kde.StatusNotifierItem-%d-1", os.Getpid())
	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("sni: requesting bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("sni: bus name %s already owned", busName)
	}

	if err := conn.Export(it, objectPath, interfaceName); err != nil {
		conn.Close()
		return fmt.Errorf("sni: exporting methods: %w", err)
	}

	propsSpec := map[string]map[string]*prop.Prop{
		interfaceName: {
			"Category": {Value: "ApplicationStatus", Writable: false, Emit: prop.EmitFalse},
			"Id":       {Value: it.appName, Writable: false, Emit: prop.EmitFalse},
			"Title":    {Value: it.appName, Writable: false, Emit: prop.EmitFalse},
			"Status":   {Value: "Active", Writable: false, Emit: prop.EmitFalse},
			"IconName": {Value: "audio-card", Writable: false, Emit: prop.EmitFalse},
		},
	}
	if _, err := prop.Export(conn, objectPath, propsSpec); err != nil {
		conn.Close()
		return fmt.Errorf("sni: exporting properties: %w", err)
	}

	if err := conn.Export(introspect.Introspectable(introspectXML), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return fmt.Errorf("sni: exporting introspection: %w", err)
	}

	watcher := conn.Object(watcherName, "/StatusNotifierWatcher")
	if call := watcher.Call(watcherName+".RegisterStatusNotifierItem", 0, busName); call.Err != nil {
		it.logger.Warn("sni: no StatusNotifierWatcher on this session bus; tray icon may not appear", "err", call.Err)
	}

	<-it.done
	return nil
}

// Activate implements the exported D-Bus method: left-click.
func (it *Item) Activate(x, y int32) *dbus.Error {
	it.mu.Lock()
	fn := it.onActivate
	it.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// SecondaryActivate implements the exported D-Bus method: middle-click.
// Treated identically to Activate, extending the "left-click toggles"
// behavior to the secondary button.
func (it *Item) SecondaryActivate(x, y int32) *dbus.Error {
	return it.Activate(x, y)
}

// ContextMenu implements the exported D-Bus method for a right-click menu
// request. This host has no native menu renderer; the notifier host falls
// back to its own default menu presentation.
func (it *Item) ContextMenu(x, y int32) *dbus.Error {
	return nil
}

// Quit invokes the registered OnQuit callback. It is called from Go only:
// it is not part of the StatusNotifierItem D-Bus interface, and the item
// publishes no menu entry that invokes it.
func (it *Item) Quit() {
	it.mu.Lock()
	fn := it.onQuit
	it.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close disconnects from the session bus and unblocks Run.
func (it *Item) Close() error {
	it.mu.Lock()
	conn := it.conn
	it.conn = nil
	it.mu.Unlock()

	select {
	case <-it.done:
	default:
		close(it.done)
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

var _ interface {
	Run() error
	Close() error
	OnActivate(func())
	OnQuit(func())
} = (*Item)(nil)
