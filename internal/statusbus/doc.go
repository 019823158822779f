// Package statusbus fans out job status changes to observers.
//
// The Hub is an in-memory, sequence-numbered buffer: publishers never block
// and subscribers resume from the last sequence they saw. WebSocketHandler
// exposes the stream per project; Subscribe is the matching client.
package statusbus
