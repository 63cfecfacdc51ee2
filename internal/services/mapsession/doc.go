// Package mapsession hosts the live shared-map session service: the presence
// registry, per-map rooms, the owner-authoritative sync engine and the
// WebSocket transport that drives it.
package mapsession
