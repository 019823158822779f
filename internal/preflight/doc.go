// Package preflight provides readiness checks for the filesystem paths,
// broker and programs narrate depends on.
//
// The daemon logs RunAll results at start-up, the workflow health report
// checks the work directory, and the CLI doctor command prints everything.
package preflight
