package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/events"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
)

var eventsCmd = APIEndpoint{
	Name: "events",
	Path: "events",

	Get: APIEndpointAction{Handler: eventsGet},
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventsGet upgrades the connection to a websocket and streams events until
// the client disconnects or the daemon shuts down. The "type" query parameter
// filters by event type or entity ("network", "nic.create", ...).
func eventsGet(d *Daemon, r *http.Request) response.Response {
	var types []string
	if raw := r.URL.Query().Get("type"); raw != "" {
		types = strings.Split(raw, ",")
	}

	return response.ManualResponse(func(w http.ResponseWriter, r *http.Request) error {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return err
		}

		listener := d.events.AddListener(events.NewWebsocketListenerConnection(conn), types)
		listener.Wait(d.shutdownCtx)

		return nil
	})
}
