// Package transport implements the out-of-scope Transport collaborator:
// the TCP acceptor and per-connection handshake described informatively in
// spec §6. A client opens a connection, sends a 16-byte client id (echoed
// back), then a single sentinel byte; afterwards both sides exchange
// length-prefixed JSON request/response frames until the connection closes.
//
// The handshake's client id is opaque to the core; the server additionally
// assigns each connection an internal id (via google/uuid) purely for log
// correlation.
package transport
