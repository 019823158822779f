// Package store persists projects, their ordered media items, and the video
// job status of each project in SQLite.
//
// The Store manages database connections, schema initialization, item
// ordering, and the job state machine (not_started, generating, completed,
// failed, cancelled). Status writes are conditional updates keyed on the
// current state, so concurrent callers such as a running pipeline and a
// cancel request cannot overwrite each other: a cancelled job stays cancelled
// and progress never moves backwards.
//
// Schema changes bump the version in schema.go; users delete the database to
// adopt the new schema.
package store
