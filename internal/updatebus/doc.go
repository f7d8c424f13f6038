// Package updatebus fans session events out to best-effort observers.
//
// Philosophy: "Never block the publisher. The client stream comes first."
//
// Sessions Publish without blocking into a bounded inbox; one
// distribution goroutine copies each event, in publish order, into every
// subscriber's bounded mailbox. A full queue drops its oldest event and
// counts the drop, so a stalled observer (PNG dumper, MQTT emitter) loses
// history instead of slowing down a capture.
//
// Lifecycle: New() -> Start() -> Publish()/Subscribe() -> Stop().
package updatebus
