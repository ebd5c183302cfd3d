// Package server is the real-time side of the chat service.
//
// A Hub runs a single event loop that owns every connection, the presence
// registry and the room member sets. Clients read events on their own
// goroutine, run them through the message protocol and hand the resulting
// broadcasts back to the hub, which delivers them to the room in order.
// The same protocol handler also backs the REST API under /api.
package server
