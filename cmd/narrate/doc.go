// Command narrate is the command-line client for the narrate daemon. It
// manages projects and items, triggers speech synthesis and video assembly,
// and controls the daemon process itself.
package main
