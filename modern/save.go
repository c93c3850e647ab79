package modern

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// SaveSnapshotJSON writes snap as indented JSON.
// It intentionally does not print to stdout/stderr (UI should surface errors itself).
func SaveSnapshotJSON(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SnapshotPath derives a timestamped snapshot file name from the config path.
func SnapshotPath(configPath string, at time.Time) string {
	base := configPath
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	return fmt.Sprintf("%s_status_%s.json", base, at.Format("20060102-150405"))
}
