// Package progress carries crawl progress events from the coordinator to
// pluggable sinks. Events are batched on a background goroutine so emitting
// never blocks a pipeline worker.
package progress
