// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the session layer. These give clients
// a more specific reason than the standard codes.
const (
	CloseBadJoin      websocket.StatusCode = 3000 // first message was not a valid joinRoom/rejoinRoom
	CloseRoomNotFound websocket.StatusCode = 3001 // target room code does not exist
	CloseKicked       websocket.StatusCode = 3002 // player was removed by the host and may not rejoin
)
