package updatebus

import (
	"time"

	"github.com/e7canasta/pagestream/internal/raster"
)

// Kind is the type of a session event.
type Kind int

const (
	// KindUpdate is an emitted frame update.
	KindUpdate Kind = iota
	// KindOpen is published once the session's page is streaming.
	KindOpen
	// KindClose is published when the session ends.
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one session occurrence. Publishers must not modify an event
// after Publish.
type Event struct {
	SessionID string
	Kind      Kind
	Time      time.Time

	// Set for KindUpdate.
	Seq   uint64
	Rect  raster.Rect
	Bytes int
	// Preview renders the update region at display levels. Nil unless
	// Kind is KindUpdate.
	Preview func() *raster.RawFrame

	// BusSeq is assigned by the bus when distributed.
	BusSeq uint64
}
