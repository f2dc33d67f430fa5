// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the room session handler. These give
// clients a more specific reason for closure than the standard codes.
const (
	BadSubprotocolError  = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthError     = 3001 // Session identity could not be established.
	InvalidRoomCodeError = 3003 // Target room in the WS URL does not exist.
)
