// Package pipeline turns captured screenshots into framed updates.
//
// One Processor exists per session. For every capture it decodes the PNG,
// diffs it against the previous frame, crops the changed rectangle and
// encodes it for the session's color configuration. The result is emitted
// only when no newer capture has started since this one (the stale guard).
//
// The previous frame is replaced only by a result that passes the guard.
// A stale result is dropped whole: it neither reaches the client nor
// becomes the reference for the next diff, so the client's picture and
// the server's reference never drift apart.
package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/pagestream/internal/colors"
	"github.com/e7canasta/pagestream/internal/diff"
	"github.com/e7canasta/pagestream/internal/raster"
)

// Outcome is what happened to one capture.
type Outcome int

const (
	// Emitted means an update was handed to the emit function.
	Emitted Outcome = iota
	// Unchanged means the frame matched the previous one.
	Unchanged
	// Stale means a newer capture started before this one finished.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Emitted:
		return "emitted"
	case Unchanged:
		return "unchanged"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Update is one changed region ready for framing.
type Update struct {
	Seq     uint64
	Rect    raster.Rect
	Payload []byte

	region *raster.RawFrame
	colors colors.Config
}

// Preview returns the region at display-equivalent (0-255) levels.
func (u Update) Preview() *raster.RawFrame {
	return u.colors.Preview(u.region)
}

// Stats is a snapshot of Processor counters.
type Stats struct {
	Processed uint64 `json:"processed"`
	Emitted   uint64 `json:"emitted"`
	Unchanged uint64 `json:"unchanged"`
	Stale     uint64 `json:"stale"`
}

// Processor holds the previous frame of one session.
type Processor struct {
	colors colors.Config

	mu   sync.Mutex
	prev *raster.RawFrame

	processed atomic.Uint64
	emitted   atomic.Uint64
	unchanged atomic.Uint64
	stale     atomic.Uint64
}

// New creates a Processor with no previous frame, so the first capture is
// always a full-frame update.
func New(cfg colors.Config) *Processor {
	return &Processor{colors: cfg}
}

// Process runs one capture through the pipeline.
//
// latest reports whether seq is still the newest capture; it is consulted
// after the payload is computed. emit is called at most once, with the
// Processor lock held, so emission order matches commit order.
func (p *Processor) Process(encoded []byte, seq uint64, latest func(uint64) bool, emit func(Update) error) (Outcome, error) {
	p.processed.Add(1)

	cur, err := raster.Decode(encoded, p.colors.Grayscale)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rect, changed := diff.Diff(p.prev, cur)
	if !changed {
		p.unchanged.Add(1)
		return Unchanged, nil
	}

	region, err := cur.Crop(rect)
	if err != nil {
		return 0, err
	}

	payload, err := p.colors.Encode(region)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", rect, err)
	}

	if !latest(seq) {
		p.stale.Add(1)
		return Stale, nil
	}

	p.prev = cur
	p.emitted.Add(1)

	u := Update{
		Seq:     seq,
		Rect:    rect,
		Payload: payload,
		region:  region,
		colors:  p.colors,
	}
	if err := emit(u); err != nil {
		return Emitted, fmt.Errorf("emit: %w", err)
	}
	return Emitted, nil
}

// Reset forgets the previous frame; the next capture is sent in full.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prev = nil
}

// Stats returns current counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Emitted:   p.emitted.Load(),
		Unchanged: p.unchanged.Load(),
		Stale:     p.stale.Load(),
	}
}
