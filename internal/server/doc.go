// Package server implements the chat relay: a session and room registry, an
// event router that maps the wire protocol onto it, and the WebSocket plumbing
// that carries events to and from clients.
//
// The registry owns all room state (memberships, passwords, ban lists, and
// username routing) behind serialized access. The router turns each inbound
// event into a registry operation plus an emission plan, keeping group
// subscriptions in lockstep with memberships. The hub and client types adapt
// gorilla/websocket connections into the Channel abstraction the router
// delivers through.
package server
