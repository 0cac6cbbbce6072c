// Package runtime is the receiving side of the protocol: a dispatcher that
// turns frames into renderer calls and replies, and a server that binds the
// control (REP) and stream (PULL or SUB) sockets around it.
//
// The renderer itself is an interface. HeadlessRenderer keeps the scene
// state in memory and writes recordings as msgpack record streams; it backs
// cmd/vizruntime and the end-to-end tests.
package runtime
