package types

// Version is the canonical project version.
// The worker binary, the controller CLI and the line protocol share it.
const Version = "0.1.0"

// ProtocolVersion is the line protocol version reported in the first log line
// and in worker-finished events. It moves in lockstep with Version.
const ProtocolVersion = Version
