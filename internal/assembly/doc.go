// Package assembly turns a project's render-ready items into one video.
//
// Orchestrator.Start checks preconditions and claims the project, then
// Run.Execute drives the stages (preparation, encoding, concatenation,
// attach) inside a private working directory, publishing weighted progress
// after every item. Cancellation is observed before each stage and item.
package assembly
