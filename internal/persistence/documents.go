package persistence

// ParamValue is one persisted control-port value for a plugin instance.
type ParamValue struct {
	PortIndex uint32  `json:"port_index"`
	Value     float32 `json:"value"`
}

// PluginRecord is one persisted Plugin Instance, keyed by stable id so it
// survives the server assigning it a new session-scoped node id across
// restarts.
type PluginRecord struct {
	StableID    string       `json:"stable_id"`
	PluginURI   string       `json:"plugin_uri"`
	DisplayName string       `json:"display_name"`
	Bypass      bool         `json:"bypass"`
	Params      []ParamValue `json:"params"`
}

// PluginDocument is the full "plugins" document.
type PluginDocument struct {
	Instances []PluginRecord `json:"instances"`
}

// LinkEndpoint identifies a port by its owning layout key plus port name,
// rather than a session-scoped id, so a persisted link survives a restart.
type LinkEndpoint struct {
	LayoutKey string `json:"layout_key"`
	PortName  string `json:"port_name"`
}

// LinkRecord is one persisted plugin-plugin or plugin-node link.
type LinkRecord struct {
	Output LinkEndpoint `json:"output"`
	Input  LinkEndpoint `json:"input"`
}

// LinkDocument is the full "links" document.
type LinkDocument struct {
	Links []LinkRecord `json:"links"`
}

// RulePortPairRecord mirrors internal/rules.PortMapping for serialization:
// an explicit rule mapping keyed by port name, so it survives the server
// reassigning port ids across a restart.
type RulePortPairRecord struct {
	OutputPort string `json:"output_port"`
	InputPort  string `json:"input_port"`
}

// RuleRecord is the serializable shape of internal/rules.Rule (which keeps
// its compiled glob matchers unexported and so cannot marshal directly).
type RuleRecord struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	SourcePattern string               `json:"source_pattern"`
	SourceType    string               `json:"source_type"`
	TargetPattern string               `json:"target_pattern"`
	TargetType    string               `json:"target_type"`
	Mappings      []RulePortPairRecord `json:"mappings,omitempty"`
	Enabled       bool                 `json:"enabled"`
}

// RuleDocument is the full "rules" document.
type RuleDocument struct {
	Rules []RuleRecord `json:"rules"`
}

// LayoutDocument maps layout key to a canvas position, surviving restarts
// of the node's owning application.
type LayoutDocument struct {
	Positions map[string][2]float64 `json:"positions"`
}

// HiddenDocument is the set of layout keys the user has hidden from view.
type HiddenDocument struct {
	LayoutKeys []string `json:"layout_keys"`
}

// ViewportDocument is the canvas pan/zoom state.
type ViewportDocument struct {
	PanX float64 `json:"pan_x"`
	PanY float64 `json:"pan_y"`
	Zoom float64 `json:"zoom"`
}

// WindowDocument is the main window's last geometry.
type WindowDocument struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}
