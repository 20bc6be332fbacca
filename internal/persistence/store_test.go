package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestZeroDebounceDocumentWritesImmediately(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DocRules, RuleDocument{Rules: []RuleRecord{{ID: "r1"}}}))

	var out RuleDocument
	require.NoError(t, s.Load(DocRules, &out))
	require.Len(t, out.Rules, 1)
	require.Equal(t, "r1", out.Rules[0].ID)
}

func TestDebouncedDocumentCoalescesRapidSaves(t *testing.T) {
	s := newTestStore(t)
	s.SetDebounce(DocLayout, 30*time.Millisecond)

	require.NoError(t, s.Save(DocLayout, LayoutDocument{Positions: map[string][2]float64{"a": {1, 1}}}))
	require.NoError(t, s.Save(DocLayout, LayoutDocument{Positions: map[string][2]float64{"a": {2, 2}}}))

	path := filepath.Join(s.dir, DocLayout+".json")
	_, statErr := os.Stat(path)
	require.Error(t, statErr, "debounced write must not land before the timer fires")

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	var out LayoutDocument
	require.NoError(t, s.Load(DocLayout, &out))
	require.Equal(t, [2]float64{2, 2}, out.Positions["a"], "only the latest coalesced value should be written")
}

func TestFlushAllWritesPendingDocumentsSynchronously(t *testing.T) {
	s := newTestStore(t)
	s.SetDebounce(DocViewport, time.Hour)
	require.NoError(t, s.Save(DocViewport, ViewportDocument{PanX: 5, Zoom: 1.5}))

	s.FlushAll()

	var out ViewportDocument
	require.NoError(t, s.Load(DocViewport, &out))
	require.Equal(t, 5.0, out.PanX)
	require.Equal(t, 1.5, out.Zoom)
}

func TestLoadMissingDocumentLeavesOutUntouched(t *testing.T) {
	s := newTestStore(t)
	out := WindowDocument{Width: 800, Height: 600}
	require.NoError(t, s.Load(DocWindow, &out))
	require.Equal(t, 800, out.Width)
}

func TestBackupRulesWritesTimestampedFile(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 7, 30, 14, 3, 5, 0, time.UTC)
	require.NoError(t, s.BackupRules(RuleDocument{Rules: []RuleRecord{{ID: "r1"}}}, now, ""))

	names, err := s.ListRuleBackups()
	require.NoError(t, err)
	require.Len(t, names, 1)
	require.Equal(t, "rules.2026-07-30T14-03-05.json", names[0])
}

func TestRestoreRuleBackupRoundTrips(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 7, 30, 14, 3, 5, 0, time.UTC)
	orig := RuleDocument{Rules: []RuleRecord{{ID: "r1", Name: "test"}}}
	require.NoError(t, s.BackupRules(orig, now, "manual"))

	names, err := s.ListRuleBackups()
	require.NoError(t, err)
	require.Len(t, names, 1)

	var restored RuleDocument
	require.NoError(t, s.RestoreRuleBackup(names[0], &restored))
	require.Equal(t, orig, restored)
}

func TestExternalEditIsReportedOnDirectoryWatch(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DocHidden, HiddenDocument{LayoutKeys: []string{"a"}}))

	select {
	case doc := <-s.ExternalEdits():
		require.Equal(t, DocHidden, doc)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an external-edit notification for the document this process just wrote")
	}
}
