package main

import (
	"net/http"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

var searchIPsCmd = APIEndpoint{
	Name: "search_ips",
	Path: "search/ips",

	Get: APIEndpointAction{Handler: searchIPsGet},
}

// searchIPsGet looks an address up across every network whose subnet contains
// it.
func searchIPsGet(d *Daemon, r *http.Request) response.Response {
	raw := r.URL.Query().Get("ip")
	if raw == "" {
		return response.SmartError(api.InvalidParams(api.MissingParam("ip")))
	}

	out, err := models.SearchIPs(r.Context(), d.state, raw)
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponse(out)
}
