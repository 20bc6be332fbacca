package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpecifiedValues(t *testing.T) {
	d := Defaults()
	require.False(t, d.StartMinimized)
	require.False(t, d.CloseToTray)
	require.True(t, d.AutoLearnRules)
	require.Equal(t, 50, d.RuleSettleMs)
	require.Equal(t, 100, d.PollIntervalMs)
	require.Equal(t, 10, d.PwTickIntervalMs)
	require.Equal(t, 50, d.PwOperationCooldownMs)
	require.Equal(t, 1000, d.ParamsPersistMs)
	require.Equal(t, 2000, d.LinksPersistMs)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "preferences.json"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), p)
}

func TestValidateRejectsOutOfRangeValue(t *testing.T) {
	p := Defaults()
	p.RuleSettleMs = 5000
	err := Validate(p)
	require.Error(t, err)
}

func TestValidateAcceptsBoundaryValues(t *testing.T) {
	p := Defaults()
	p.RuleSettleMs = 0
	p.PollIntervalMs = 16
	p.PwTickIntervalMs = 200
	require.NoError(t, Validate(p))
}

func TestStoreReplaceRejectsInvalidPreferences(t *testing.T) {
	s := NewStore(Defaults())
	bad := Defaults()
	bad.LinksPersistMs = 1
	require.Error(t, s.Replace(bad))
	require.Equal(t, 2000, s.Get().LinksPersistMs, "a rejected Replace must not mutate the store")
}

func TestStoreGetReturnsIndependentCopy(t *testing.T) {
	s := NewStore(Defaults())
	got := s.Get()
	got.AutoLearnRules = false
	require.True(t, s.Get().AutoLearnRules, "mutating a Get() copy must not affect the store")
}
