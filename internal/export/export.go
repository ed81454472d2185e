// Package export implements the JSONL/CSV event dumps described in spec
// §4.11/§6.4: one file per requested level (or one per level when "all" is
// requested), written under <root>/exports/<conv>/. It mirrors the
// teacher's preference for small, single-purpose io.Writer-based encoders
// over a generic reflection-driven dumper, since the four payload shapes
// are fixed and known ahead of time (spec §3).
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/store"
)

// jsonlATO etc. pin the on-the-wire key order spec §6.4 requires:
// "level, conv, ts, idx, marker_id, ...payload". Each level gets its own
// struct rather than one struct with every field made optional, since a
// record's payload shape is determined entirely by its level.
type jsonlATO struct {
	Level    string `json:"level"`
	Conv     string `json:"conv"`
	TS       string `json:"ts"`
	Idx      int    `json:"idx"`
	MarkerID string `json:"marker_id"`
	Text     string `json:"text"`
}

type jsonlSEM struct {
	Level    string `json:"level"`
	Conv     string `json:"conv"`
	TS       string `json:"ts"`
	Idx      int    `json:"idx"`
	MarkerID string `json:"marker_id"`
	AtosJSON string `json:"atos_json"`
}

type jsonlCLU struct {
	Level      string  `json:"level"`
	Conv       string  `json:"conv"`
	TS         string  `json:"ts"`
	Idx        int     `json:"idx"`
	MarkerID   string  `json:"marker_id"`
	Score      float64 `json:"score"`
	WindowJSON string  `json:"window_json"`
}

type jsonlMEMA struct {
	Level     string `json:"level"`
	Conv      string `json:"conv"`
	TS        string `json:"ts"`
	Idx       int    `json:"idx"`
	MarkerID  string `json:"marker_id"`
	Rationale string `json:"rationale"`
}

// payloadColumns names the CSV header's trailing columns for level, in
// the same field order the JSONL payload carries.
func payloadColumns(level store.Level) []string {
	switch level {
	case store.LevelATO:
		return []string{"text"}
	case store.LevelSEM:
		return []string{"atos_json"}
	case store.LevelCLU:
		return []string{"score", "window_json"}
	case store.LevelMEMA:
		return []string{"rationale"}
	default:
		return nil
	}
}

func payloadValues(level store.Level, ev store.Event) []string {
	switch level {
	case store.LevelATO:
		return []string{ev.Text}
	case store.LevelSEM:
		return []string{ev.AtosJSON}
	case store.LevelCLU:
		return []string{fmt.Sprintf("%v", ev.Score), ev.WindowJSON}
	case store.LevelMEMA:
		return []string{ev.Rationale}
	default:
		return nil
	}
}

func marshalLine(level store.Level, conv string, ev store.Event) ([]byte, error) {
	ts := ev.TS.UTC().Format("2006-01-02T15:04:05Z")
	switch level {
	case store.LevelATO:
		return json.Marshal(jsonlATO{Level: string(level), Conv: conv, TS: ts, Idx: ev.Idx, MarkerID: ev.MarkerID, Text: ev.Text})
	case store.LevelSEM:
		return json.Marshal(jsonlSEM{Level: string(level), Conv: conv, TS: ts, Idx: ev.Idx, MarkerID: ev.MarkerID, AtosJSON: ev.AtosJSON})
	case store.LevelCLU:
		return json.Marshal(jsonlCLU{Level: string(level), Conv: conv, TS: ts, Idx: ev.Idx, MarkerID: ev.MarkerID, Score: ev.Score, WindowJSON: ev.WindowJSON})
	case store.LevelMEMA:
		return json.Marshal(jsonlMEMA{Level: string(level), Conv: conv, TS: ts, Idx: ev.Idx, MarkerID: ev.MarkerID, Rationale: ev.Rationale})
	default:
		return nil, &engineerr.EngineError{Kind: engineerr.EngineInternal, Detail: fmt.Sprintf("unknown level %q", level)}
	}
}

// AllLevels is the fixed export order used when the caller asks for "all".
var AllLevels = []store.Level{store.LevelATO, store.LevelSEM, store.LevelCLU, store.LevelMEMA}

// JSONL writes events (already ordered idx ASC, marker_id ASC by the
// caller's QueryEvents call) to outDir/<level>.jsonl, one JSON object per
// line, and returns the written path.
func JSONL(outDir string, level store.Level, conv string, events []store.Event) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "export.jsonl mkdir", Err: err}
	}
	path := filepath.Join(outDir, string(level)+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return "", &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "export.jsonl create", Err: err}
	}
	defer f.Close()

	for _, ev := range events {
		line, err := marshalLine(level, conv, ev)
		if err != nil {
			return "", err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return "", &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "export.jsonl write", Err: err}
		}
	}
	return path, nil
}

// CSV writes events to outDir/<level>.csv: a header row identical to the
// JSONL key order, with multi-field payloads inlined as one column each
// (spec §6.4: "payload JSON inlined as a single column" — for CLU that
// means score and window_json each get their own column since neither is
// itself already a JSON document requiring further inlining).
func CSV(outDir string, level store.Level, conv string, events []store.Event) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "export.csv mkdir", Err: err}
	}
	path := filepath.Join(outDir, string(level)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "export.csv create", Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"level", "conv", "ts", "idx", "marker_id"}, payloadColumns(level)...)
	if err := w.Write(header); err != nil {
		return "", &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "export.csv header", Err: err}
	}
	for _, ev := range events {
		ts := ev.TS.UTC().Format("2006-01-02T15:04:05Z")
		row := append([]string{string(level), conv, ts, fmt.Sprintf("%d", ev.Idx), ev.MarkerID}, payloadValues(level, ev)...)
		if err := w.Write(row); err != nil {
			return "", &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "export.csv row", Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "export.csv flush", Err: err}
	}
	return path, nil
}
