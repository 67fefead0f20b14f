// Package track implements the job tracking engine. A Tracker is a
// single-goroutine state machine per analysis that serializes submit results,
// snapshot deliveries, timer expirations, and channel errors, emitting one
// render event per meaningful transition. The Engine owns all live trackers,
// their publish gates, persistence, and the render-event fan-out.
package track
