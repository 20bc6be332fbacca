package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// backupTimestampLayout produces names like rules.2026-07-30T14-03-05.json
// (colons are filesystem-hostile, so the time component uses dashes).
const backupTimestampLayout = "2006-01-02T15-04-05"

// BackupRules writes a timestamped copy of the current rules document
// before it is overwritten by any non-reapply mutation (user edits,
// snapshots, learns). now is passed in rather than computed here since
// time.Now is unavailable to the caller in some contexts (rule engine
// callbacks run off a deterministic test clock).
func (s *Store) BackupRules(doc RuleDocument, now time.Time, name string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshaling rules backup: %w", err)
	}

	fileName := fmt.Sprintf("rules.%s", now.Format(backupTimestampLayout))
	if name != "" {
		fileName += "." + name
	}
	fileName += ".json"

	return os.WriteFile(filepath.Join(s.dir, fileName), data, 0644)
}

// ListRuleBackups returns every rules backup file name in the config
// directory, oldest first.
func (s *Store) ListRuleBackups() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: listing %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if n != DocRules+".json" && len(n) > len("rules.") && n[:len("rules.")] == "rules." && filepath.Ext(n) == ".json" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// RestoreRuleBackup reads a previously listed backup file into doc.
func (s *Store) RestoreRuleBackup(fileName string, doc *RuleDocument) error {
	data, err := os.ReadFile(filepath.Join(s.dir, fileName))
	if err != nil {
		return fmt.Errorf("persistence: reading backup %s: %w", fileName, err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("persistence: parsing backup %s: %w", fileName, err)
	}
	return nil
}
