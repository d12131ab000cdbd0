// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the change monitor and job monitor use to report progress.
// It batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus metrics, structured logs, or a Pub/Sub topic.
package progress
