// Package debugdump writes every emitted update to disk as a PNG, at the
// levels the client will display. Files are named
// <dir>/<session_id>/<seq>_<x>,<y>.png.
package debugdump

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/e7canasta/pagestream/internal/updatebus"
)

// Stats is a snapshot of dumper counters.
type Stats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

// Dumper writes update previews below a root directory.
type Dumper struct {
	dir string
	log *slog.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

// New creates the root directory if needed.
func New(dir string, log *slog.Logger) (*Dumper, error) {
	if dir == "" {
		return nil, fmt.Errorf("debugdump: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("debugdump: create %s: %w", dir, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dumper{dir: dir, log: log}, nil
}

// Path returns the file an update event is written to.
func (d *Dumper) Path(ev *updatebus.Event) string {
	name := fmt.Sprintf("%d_%d,%d.png", ev.Seq, ev.Rect.X, ev.Rect.Y)
	return filepath.Join(d.dir, ev.SessionID, name)
}

// Write dumps one event. Non-update events are ignored.
func (d *Dumper) Write(ev *updatebus.Event) error {
	if ev.Kind != updatebus.KindUpdate || ev.Preview == nil {
		return nil
	}

	path := d.Path(ev)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("debugdump: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("debugdump: %w", err)
	}
	if err := ev.Preview().EncodePNG(f); err != nil {
		f.Close()
		return fmt.Errorf("debugdump: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("debugdump: %w", err)
	}
	return nil
}

// Run consumes events until read returns nil.
func (d *Dumper) Run(read func() *updatebus.Event) {
	for ev := read(); ev != nil; ev = read() {
		if err := d.Write(ev); err != nil {
			d.failed.Add(1)
			d.log.Warn("debugdump: write failed", "session_id", ev.SessionID, "error", err)
			continue
		}
		if ev.Kind == updatebus.KindUpdate {
			d.written.Add(1)
		}
	}
}

// Stats returns current counters.
func (d *Dumper) Stats() Stats {
	return Stats{Written: d.written.Load(), Failed: d.failed.Load()}
}
