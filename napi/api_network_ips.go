package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/util"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

var networkIPsCmd = APIEndpoint{
	Name: "network_ips",
	Path: "networks/{uuid}/ips",

	Get: APIEndpointAction{Handler: networkIPsGet},
}

var networkIPCmd = APIEndpoint{
	Name: "network_ip",
	Path: "networks/{uuid}/ips/{ip}",

	Get: APIEndpointAction{Handler: networkIPGet},
	Put: APIEndpointAction{Handler: networkIPPut},
}

func networkIPsGet(d *Daemon, r *http.Request) response.Response {
	n, err := models.GetNetwork(r.Context(), d.state, mux.Vars(r)["uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	records, err := models.ListIPs(r.Context(), d.state, n, queryParams(r))
	if err != nil {
		return response.SmartError(err)
	}

	out := make([]*api.IP, 0, len(records))
	for _, rec := range records {
		out = append(out, models.IPToAPI(n, rec))
	}

	return response.SyncResponse(out)
}

func networkIPGet(d *Daemon, r *http.Request) response.Response {
	n, err := models.GetNetwork(r.Context(), d.state, mux.Vars(r)["uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	rec, err := models.GetIP(r.Context(), d.state, n, mux.Vars(r)["ip"])
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponseETag(models.IPToAPI(n, rec), models.IPToAPI(n, rec))
}

func networkIPPut(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	n, err := models.GetNetwork(r.Context(), d.state, mux.Vars(r)["uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	current, err := models.GetIP(r.Context(), d.state, n, mux.Vars(r)["ip"])
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, models.IPToAPI(n, current))
	if err != nil {
		return response.SmartError(err)
	}

	rec, err := models.UpdateIP(r.Context(), d.state, n, mux.Vars(r)["ip"], body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("ip.update", models.IPToAPI(n, rec))

	return response.SyncResponse(models.IPToAPI(n, rec))
}
