package session

// Session lifecycle statuses as reported to the dashboard.
const (
	// StatusInitializing is set when a connector is being created and started.
	StatusInitializing = "initializing"

	// StatusScanQR means a pairing challenge is pending for the operator.
	StatusScanQR = "scan_qr"

	// StatusAuthenticated means the device paired but is not yet fully online.
	StatusAuthenticated = "authenticated"

	// StatusOnline means the session is connected and receiving messages.
	StatusOnline = "online"

	// StatusAuthFailure means authentication failed; operator action needed.
	StatusAuthFailure = "auth_failure"

	// StatusDisconnected is the resting state for inactive or dropped sessions.
	StatusDisconnected = "disconnected"
)

// Status is one session's externally visible state.
type Status struct {
	SessionID   string `json:"session_id"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Challenge   string `json:"challenge,omitempty"`
}
