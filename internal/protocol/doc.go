// Package protocol owns the command contract between client and runtime.
//
// Ownership boundary:
// - command variants and their payload encodings
// - reply encodings and interpretation
// - error taxonomy shared by channels and the client facade
//
// Subpackages:
// - array: typed, shaped numeric envelopes
// - codec: shared msgpack configuration
// - frame: [tag, payload] framing and the tag registry
// - session: control and streaming channels
package protocol
