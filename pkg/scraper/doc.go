// Package scraper drives the crawl over all partitions.
//
// The Orchestrator walks the partitions in code order and, for every one
// that is not completed or failed, fetches result pages starting at the
// persisted page cursor. Each page goes through the same cycle:
//
//	fetch (retried per Policy) -> extract -> sink append -> checkpoint -> statistics
//
// Records are appended and fsynced before the checkpoint moves, so a crash
// between the two makes the next run fetch the page again; the sink drops
// the ids it already holds.
//
// Error handling:
//
//   - timeout and navigation errors are retried with backoff; once the
//     attempts are exhausted the partition is marked failed and the run
//     moves on
//   - parse errors are not retried; the page is skipped and counted
//   - fatal errors (unwritable output, progress write failures, a browser
//     that cannot start) end the run and are returned from Run
//
// Cancellation of the context passed to Run is polled at the start of every
// page. An in-flight fetch is allowed to finish; statistics are finalized
// and saved on every exit path.
package scraper
