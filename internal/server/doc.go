// Package server implements the session gateway of the Sigilo relay: the
// websocket endpoint, the hub that owns live sessions, and the event
// dispatcher that bridges inbound frames to the room core.
//
// The implementation is organized into specialized files for the hub,
// clients, routing, origin checks, and rate limiting to keep the codebase
// maintainable and testable as the project grows.
package server
