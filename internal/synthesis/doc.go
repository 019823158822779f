// Package synthesis exchanges text-to-speech requests with an out-of-process
// worker.
//
// A Channel writes one Request per call through a Transport (inbox/outbox
// directories or RabbitMQ queues), then polls for the matching Response at a
// fixed interval for a bounded number of attempts. Every exchange is keyed
// by a fresh UUID so concurrent callers share the transport safely.
//
// The Worker handle supervises the worker process itself: it detects a live
// process through the pid file, launches a detached one under a file lock
// when none is running, and gates requests on the worker's readiness flag,
// which the worker raises only after its model has loaded.
package synthesis
