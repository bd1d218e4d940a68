package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ExportSession writes session_<id>.json (summary) and session_<id>.csv (one
// row per enhancement) into dir, creating it when absent.
func ExportSession(dir string, s Session, now time.Time) (jsonPath, csvPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("export: %w", err)
	}
	base := filepath.Join(dir, "session_"+s.ID)
	jsonPath, csvPath = base+".json", base+".csv"

	data, err := json.MarshalIndent(Summarize(s, now), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("export: marshal summary: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("export: %w", err)
	}
	if err := writeHistory(csvPath, s.History); err != nil {
		return "", "", fmt.Errorf("export: %w", err)
	}
	return jsonPath, csvPath, nil
}

func writeHistory(path string, history []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"timestamp", "level", "result", "gold_before", "gold_after", "gold_change"})
	for _, r := range history {
		_ = w.Write([]string{
			r.Timestamp.Format(time.RFC3339),
			strconv.Itoa(r.Level),
			string(r.Result),
			strconv.FormatInt(r.GoldBefore, 10),
			strconv.FormatInt(r.GoldAfter, 10),
			strconv.FormatInt(r.GoldChange(), 10),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
