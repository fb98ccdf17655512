package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
)

// JoinResponse is the body returned by the matchmaking endpoint.
type JoinResponse struct {
	RoomID RoomID `json:"roomId"`
	WSURL  string `json:"wsUrl"`
}

// Matchmaker pairs consecutive callers into the same room: calls 0 and 1 go
// to room 1, calls 2 and 3 to room 2, and so on.
type Matchmaker struct {
	calls     atomic.Uint64
	publicURL string
}

// NewMatchmaker creates a matchmaker. publicURL is the websocket endpoint
// advertised to clients; when empty it is derived from each request.
func NewMatchmaker(publicURL string) *Matchmaker {
	return &Matchmaker{publicURL: publicURL}
}

// Next returns the room for the next caller.
func (m *Matchmaker) Next() RoomID {
	n := m.calls.Add(1) - 1
	return RoomID(n/2 + 1)
}

// HandleJoin answers with the room the caller should connect to.
func (m *Matchmaker) HandleJoin(w http.ResponseWriter, r *http.Request) {
	id := m.Next()
	resp := JoinResponse{
		RoomID: id,
		WSURL:  withRoom(m.endpoint(r), id),
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}

func (m *Matchmaker) endpoint(r *http.Request) string {
	if m.publicURL != "" {
		return m.publicURL
	}
	scheme := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, r.Host)
}

func withRoom(endpoint string, id RoomID) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sroom=%d", endpoint, sep, id)
}
