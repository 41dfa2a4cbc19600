// Package journal persists analysis cycles as JSON Lines, one file per
// UTC day. Each cycle is appended as a single line, so the files can be
// tailed live and replayed after a restart. Journal failures never stop
// the trading loop — they are logged and swallowed.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"orderly-trader/pkg/types"
)

// maxReasoningChars caps the stored chain-of-thought per cycle. Some
// models emit tens of kilobytes of reasoning; the head is enough for
// post-mortems.
const maxReasoningChars = 5000

// Journal appends cycle records to logs/cycles_YYYYMMDD.jsonl.
// All operations are mutex-protected.
type Journal struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// Open creates the journal directory if needed.
func Open(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{dir: dir, logger: logger.With("component", "journal")}, nil
}

// Append writes one cycle as a JSONL line to today's file. Errors are
// logged, never returned — losing a journal line must not halt trading.
func (j *Journal) Append(cycle types.AnalysisCycle) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(cycle.Reasoning) > maxReasoningChars {
		cycle.Reasoning = cycle.Reasoning[:maxReasoningChars]
	}

	data, err := json.Marshal(cycle)
	if err != nil {
		j.logger.Error("marshal cycle", "err", err)
		return
	}

	path := j.currentPath(cycle.Timestamp)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		j.logger.Error("open journal file", "path", path, "err", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		j.logger.Error("write journal line", "path", path, "err", err)
	}
}

func (j *Journal) currentPath(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	name := fmt.Sprintf("cycles_%s.jsonl", ts.UTC().Format("20060102"))
	return filepath.Join(j.dir, name)
}
