package bootstrap

import "errors"

// ErrBootstrapProtocol is returned when a peer's bulk_req response violates
// the session's hash-chain invariant — spec.md §4.8/§7's
// BootstrapProtocolError, fatal to the session regardless of its cause.
var ErrBootstrapProtocol = errors.New("bootstrap: protocol violation")
