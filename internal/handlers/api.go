// internal/handlers/api.go
package handlers

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kmrnm/ADABRA/internal/middleware"
	"github.com/kmrnm/ADABRA/internal/room"
)

// NewRouter wires the full HTTP surface: static pages, the room-creation API
// and the websocket endpoint. Anything else is a 404.
func NewRouter(logger *logrus.Logger, reg *room.Registry, publicDir string) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LogMiddleware(logger))

	r.HandleFunc("/", servePage(publicDir, "index.html")).Methods(http.MethodGet)
	r.HandleFunc("/host", servePage(publicDir, "host.html")).Methods(http.MethodGet)
	r.HandleFunc("/play", servePage(publicDir, "play.html")).Methods(http.MethodGet)
	r.HandleFunc("/screen", servePage(publicDir, "screen.html")).Methods(http.MethodGet)

	r.HandleFunc("/api/rooms/create", CreateRoomHandler(logger, reg)).Methods(http.MethodGet)
	r.HandleFunc("/ws", RoomWSHandler(logger, reg))

	return r
}

// CreateRoomHandler creates a room and returns its code plus the host key.
// The key is only ever revealed here, to the creator.
func CreateRoomHandler(logger *logrus.Logger, reg *room.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := reg.CreateRoom()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{
			"roomCode": rm.Code,
			"hostKey":  rm.HostKey,
		}); err != nil {
			logger.Warnf("failed to write create-room response: %v", err)
		}
	}
}

func servePage(dir, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(dir, name))
	}
}
