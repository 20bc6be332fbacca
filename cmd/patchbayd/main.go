// Command patchbayd is the server-worker process: it owns the audio-server
// connection, the graph mirror, the rule engine, and the plugin instance
// arena, and exposes the command/event transport the UI and plugin-UI host
// processes attach to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lemonxah/patchbay/internal/applog"
	"github.com/lemonxah/patchbay/internal/config"
	"github.com/lemonxah/patchbay/internal/graph"
	"github.com/lemonxah/patchbay/internal/instance"
	"github.com/lemonxah/patchbay/internal/persistence"
	"github.com/lemonxah/patchbay/internal/pluginabi"
	"github.com/lemonxah/patchbay/internal/pluginui"
	"github.com/lemonxah/patchbay/internal/rules"
	"github.com/lemonxah/patchbay/internal/serverworker"
	"github.com/lemonxah/patchbay/internal/transport"
	"github.com/lemonxah/patchbay/internal/tray"
	"github.com/lemonxah/patchbay/internal/tray/sni"
)

// process exit codes.
const (
	exitNormal              = 0
	exitServerConnectFail   = 2
	exitConfigDirUnwritable = 3
)

func main() {
	configDir := flag.String("configDir", defaultConfigDir(), "Set the per-user config directory.")
	logLevel := flag.String("logLevel", "info", "Set the log level (none, error, warn, info, debug).")
	logFile := flag.String("logFile", "", "Set the log file path; empty logs to stdout.")
	flag.Parse()

	logFilePointer, err := applog.Configure(*logLevel, *logFile, slog.HandlerOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "patchbayd: configuring logger:", err)
		os.Exit(exitNormal)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	if err := os.MkdirAll(*configDir, 0755); err != nil {
		slog.Error("config directory is not writable", "dir", *configDir, "err", err)
		os.Exit(exitConfigDirUnwritable)
	}

	prefs, err := config.Load(filepath.Join(*configDir, persistence.DocPreferences+".json"))
	if err != nil {
		slog.Error("invalid preferences, falling back to defaults", "err", err)
		prefs = config.Defaults()
	}
	prefStore := config.NewStore(prefs)

	store, err := persistence.NewStore(*configDir, slog.Default())
	if err != nil {
		slog.Error("config directory is not writable", "dir", *configDir, "err", err)
		os.Exit(exitConfigDirUnwritable)
	}
	store.SetDebounce(persistence.DocPlugins, time.Duration(prefs.ParamsPersistMs)*time.Millisecond)
	store.SetDebounce(persistence.DocLinks, time.Duration(prefs.LinksPersistMs)*time.Millisecond)
	defer store.Close()

	mirror := graph.NewMirror(slog.Default())
	engine := rules.NewEngine(mirror, time.Duration(prefs.RuleSettleMs)*time.Millisecond, slog.Default())
	engine.SetAutoLearn(prefs.AutoLearnRules)
	engine.BackupFunc = func(rs []*rules.Rule) {
		doc := persistence.RuleDocument{Rules: make([]persistence.RuleRecord, 0, len(rs))}
		for _, r := range rs {
			mappings := make([]persistence.RulePortPairRecord, len(r.Mappings))
			for i, m := range r.Mappings {
				mappings[i] = persistence.RulePortPairRecord{OutputPort: m.OutputPort, InputPort: m.InputPort}
			}
			doc.Rules = append(doc.Rules, persistence.RuleRecord{
				ID: r.ID, Name: r.Name,
				SourcePattern: r.SourcePattern, SourceType: r.SourceType,
				TargetPattern: r.TargetPattern, TargetType: r.TargetType,
				Mappings: mappings, Enabled: r.Enabled,
			})
		}
		if err := store.BackupRules(doc, time.Now(), ""); err != nil {
			slog.Warn("failed to write rule backup", "err", err)
		}
	}

	arena := instance.NewArena(pluginLoader{}, slog.Default())

	commands := transport.NewCommandChannel(256, slog.Default())
	events := transport.NewEventChannel(256, slog.Default())
	uiHostChannel := transport.NewUIHostChannel(64, slog.Default())
	tracker := transport.NewRequestTracker()

	// The real audio-server connection (PipeWire or equivalent) is the one
	// boundary this host cannot stand up without a live system bus and
	// daemon to dial; DummyServerClient is wired here so the rest of the
	// pipeline (mirror, rules, persistence, transport) runs end to end in
	// any environment, the same way a dummy hardware device stands in for
	// a real one in tests.
	server := serverworker.NewDummyServerClient()

	worker := serverworker.New(server, mirror, engine, arena, store, prefStore, commands, events, uiHostChannel, tracker, slog.Default())

	uiHost := pluginui.NewHost(noopWindowBinding{}, tracker, paramWriter{arena}, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go uiHost.Run(ctx, func() { time.Sleep(time.Millisecond) })

	trayItem := sni.New("patchbayd", slog.Default())
	trayItem.OnActivate(func() { events.TrySend(transport.ShowWindow{}) })
	trayItem.OnQuit(func() { commands.TrySend(transport.Shutdown{}) })
	go runTray(trayItem)
	defer trayItem.Close()

	if err := worker.Run(ctx); err != nil {
		slog.Error("server worker exited", "err", err)
		os.Exit(exitServerConnectFail)
	}

	os.Exit(exitNormal)
}

// runTray starts the tray service in the background; a missing
// StatusNotifierWatcher (no desktop session, e.g. under CI) is logged and
// otherwise ignored, since the tray icon is an optional convenience, not a
// dependency the rest of the process blocks on.
func runTray(t tray.Service) {
	if err := t.Run(); err != nil {
		slog.Warn("tray service unavailable", "err", err)
	}
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "patchbay")
	}
	return ".patchbay"
}

// pluginLoader resolves a plugin-standard URI to a loaded handle. Discovery
// itself is out of scope here; it only wraps the cgo bridge for plugins a
// discovery library has already resolved to a loadable shared object path.
type pluginLoader struct{}

func (pluginLoader) Load(ctx context.Context, pluginURI string) (pluginabi.Handle, error) {
	return nil, fmt.Errorf("pluginLoader: plugin discovery is out of scope; cannot load %q", pluginURI)
}

// paramWriter resolves a plugin-UI host writeback into the instance arena.
type paramWriter struct {
	arena *instance.Arena
}

func (p paramWriter) WritebackFor(instanceID string) func(portIndex uint32, value float32) {
	inst := p.arena.Get(instanceID)
	if inst == nil {
		return nil
	}
	return inst.SetParam
}

// noopWindowBinding stands in for the widget-toolkit window binding; window
// and QML presentation are an external collaborator this host never owns.
type noopWindowBinding struct{}

func (noopWindowBinding) Create(instanceID, pluginURI string, writeback func(portIndex uint32, value float32)) (pluginui.Window, error) {
	return noopWindow{}, nil
}

type noopWindow struct{}

func (noopWindow) Raise() {}
func (noopWindow) Close() {}
