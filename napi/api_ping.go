package main

import (
	"net/http"
	"os"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

var pingCmd = APIEndpoint{
	Name: "ping",
	Path: "ping",

	Get: APIEndpointAction{Handler: pingGet},
}

func pingGet(d *Daemon, r *http.Request) response.Response {
	// A failing store makes the ping report unhealthy rather than error.
	_, err := d.state.Store.SQL(r.Context(), "SELECT 1")

	return response.SyncResponse(&api.Ping{
		Pid:     os.Getpid(),
		Healthy: err == nil,
		Config: api.PingConfig{
			FabricsEnabled: d.config.FabricsEnabled,
			UnderlayTag:    d.config.UnderlayTag,
			OUI:            d.config.OUI,
		},
	})
}
