package ctfnote

import "errors"

var (
	// ErrAuthFailed means the remote rejected the configured credentials.
	// The integration stays disabled until reconfigured.
	ErrAuthFailed = errors.New("ctfnote: authentication failed")

	// ErrQueryRejected means a well-formed operation was rejected by the
	// server (validation, permissions, not found).
	ErrQueryRejected = errors.New("ctfnote: query rejected")

	// ErrUnreachable is a transport-level failure talking to the server.
	ErrUnreachable = errors.New("ctfnote: unreachable")

	// ErrNotConfigured means no session has been established yet.
	ErrNotConfigured = errors.New("ctfnote: not configured")
)
