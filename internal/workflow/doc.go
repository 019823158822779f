// Package workflow runs project work in the background.
//
// The Manager accepts generation requests, hands the claimed run to the
// assembly orchestrator on its own goroutine and returns immediately; the
// job status records the outcome. Speech synthesis for individual items
// runs on a bounded ants pool, and the resulting audio is moved into the
// media directory and attached to the item. Stop cancels everything in
// flight and waits for outcomes to be recorded.
package workflow
