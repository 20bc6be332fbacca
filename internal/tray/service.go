// Package tray defines the tray/notification transport this host depends
// on as an external collaborator: a desktop-standard notification-service
// item exposing {Show, Quit} actions and surfacing left-click as a
// ShowWindow activation.
package tray

// Service is the interface the server worker depends on; internal/tray/sni
// is the one concrete implementation, a StatusNotifierItem exported over
// D-Bus, but anything satisfying this can stand in for tests or other
// desktop environments.
type Service interface {
	// Run starts serving the tray icon until Close is called. Intended to
	// be run in its own goroutine.
	Run() error

	// Close tears down the tray icon and any underlying bus connection.
	Close() error

	// OnActivate registers the callback invoked when the user left-clicks
	// the tray icon (toggle) or chooses "Show" from its menu.
	OnActivate(fn func())

	// OnQuit registers the callback invoked when the user chooses "Quit"
	// from the tray menu.
	OnQuit(fn func())
}
