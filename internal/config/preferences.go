// Package config loads and validates the process-wide preference set: a
// fixed list of recognized keys, each with a default and, for the integer
// ones, a bounded valid range.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/viper"
)

// Preferences is the typed, validated view of the recognized preference
// keys. Mutable only from the UI thread; other threads read it under
// internal/config's own read-mostly discipline (see Store).
type Preferences struct {
	StartMinimized        bool
	CloseToTray           bool
	AutoLearnRules        bool
	RuleSettleMs          int
	PollIntervalMs        int
	PwTickIntervalMs      int
	PwOperationCooldownMs int
	ParamsPersistMs       int
	LinksPersistMs        int
}

// bound describes the inclusive valid range for one integer preference.
type bound struct {
	min, max int
}

var bounds = map[string]bound{
	"rule_settle_ms":           {0, 1000},
	"poll_interval_ms":         {16, 500},
	"pw_tick_interval_ms":      {1, 200},
	"pw_operation_cooldown_ms": {10, 5000},
	"params_persist_ms":        {100, 60000},
	"links_persist_ms":         {100, 60000},
}

// setDefaults registers every recognized key's default value in one place,
// mirroring viper's own recommended "set all defaults up front" usage.
func setDefaults(v *viper.Viper) {
	v.SetDefault("start_minimized", false)
	v.SetDefault("close_to_tray", false)
	v.SetDefault("auto_learn_rules", true)
	v.SetDefault("rule_settle_ms", 50)
	v.SetDefault("poll_interval_ms", 100)
	v.SetDefault("pw_tick_interval_ms", 10)
	v.SetDefault("pw_operation_cooldown_ms", 50)
	v.SetDefault("params_persist_ms", 1000)
	v.SetDefault("links_persist_ms", 2000)
}

// Load reads preferences.json (if present) from configPath, falling back
// to defaults for any key it omits, and validates every bounded key.
func Load(configPath string) (*Preferences, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	prefs := &Preferences{
		StartMinimized:        v.GetBool("start_minimized"),
		CloseToTray:           v.GetBool("close_to_tray"),
		AutoLearnRules:        v.GetBool("auto_learn_rules"),
		RuleSettleMs:          v.GetInt("rule_settle_ms"),
		PollIntervalMs:        v.GetInt("poll_interval_ms"),
		PwTickIntervalMs:      v.GetInt("pw_tick_interval_ms"),
		PwOperationCooldownMs: v.GetInt("pw_operation_cooldown_ms"),
		ParamsPersistMs:       v.GetInt("params_persist_ms"),
		LinksPersistMs:        v.GetInt("links_persist_ms"),
	}

	if err := Validate(prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// Validate checks every bounded integer preference against its recognized
// range, returning the first violation found.
func Validate(p *Preferences) error {
	checks := map[string]int{
		"rule_settle_ms":           p.RuleSettleMs,
		"poll_interval_ms":         p.PollIntervalMs,
		"pw_tick_interval_ms":      p.PwTickIntervalMs,
		"pw_operation_cooldown_ms": p.PwOperationCooldownMs,
		"params_persist_ms":        p.ParamsPersistMs,
		"links_persist_ms":         p.LinksPersistMs,
	}
	for key, value := range checks {
		b := bounds[key]
		if value < b.min || value > b.max {
			return fmt.Errorf("config: %s=%d out of range [%d,%d]", key, value, b.min, b.max)
		}
	}
	return nil
}

// Defaults returns a Preferences populated entirely with the recognized
// default values, for callers that need a baseline without touching disk
// (tests, first-run bootstrap before a config file exists).
func Defaults() *Preferences {
	v := viper.New()
	setDefaults(v)
	return &Preferences{
		StartMinimized:        v.GetBool("start_minimized"),
		CloseToTray:           v.GetBool("close_to_tray"),
		AutoLearnRules:        v.GetBool("auto_learn_rules"),
		RuleSettleMs:          v.GetInt("rule_settle_ms"),
		PollIntervalMs:        v.GetInt("poll_interval_ms"),
		PwTickIntervalMs:      v.GetInt("pw_tick_interval_ms"),
		PwOperationCooldownMs: v.GetInt("pw_operation_cooldown_ms"),
		ParamsPersistMs:       v.GetInt("params_persist_ms"),
		LinksPersistMs:        v.GetInt("links_persist_ms"),
	}
}
