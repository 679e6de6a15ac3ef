package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/util"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

var networkPoolsCmd = APIEndpoint{
	Name: "network_pools",
	Path: "network_pools",

	Get:  APIEndpointAction{Handler: networkPoolsGet},
	Post: APIEndpointAction{Handler: networkPoolsPost},
}

var networkPoolCmd = APIEndpoint{
	Name: "network_pool",
	Path: "network_pools/{uuid}",

	Get:    APIEndpointAction{Handler: networkPoolGet},
	Put:    APIEndpointAction{Handler: networkPoolPut},
	Delete: APIEndpointAction{Handler: networkPoolDelete},
}

var networkPoolNICsCmd = APIEndpoint{
	Name: "network_pool_nics",
	Path: "network_pools/{uuid}/nics",

	Post: APIEndpointAction{Handler: networkPoolNICsPost},
}

func networkPoolsGet(d *Daemon, r *http.Request) response.Response {
	pools, err := models.ListNetworkPools(r.Context(), d.state, queryParams(r))
	if err != nil {
		return response.SmartError(err)
	}

	out := make([]*api.NetworkPool, 0, len(pools))
	for _, pool := range pools {
		wire, err := pool.API(r.Context(), d.state)
		if err != nil {
			return response.SmartError(err)
		}

		out = append(out, wire)
	}

	return response.SyncResponse(out)
}

func networkPoolsPost(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	pool, err := models.CreateNetworkPool(r.Context(), d.state, body)
	if err != nil {
		return response.SmartError(err)
	}

	wire, err := pool.API(r.Context(), d.state)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("network_pool.create", wire)

	return response.SyncResponse(wire)
}

func networkPoolGet(d *Daemon, r *http.Request) response.Response {
	pool, err := models.GetNetworkPool(r.Context(), d.state, mux.Vars(r)["uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	wire, err := pool.API(r.Context(), d.state)
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponseETag(wire, wire)
}

func networkPoolPut(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	current, err := models.GetNetworkPool(r.Context(), d.state, mux.Vars(r)["uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	currentWire, err := current.API(r.Context(), d.state)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, currentWire)
	if err != nil {
		return response.SmartError(err)
	}

	pool, err := models.UpdateNetworkPool(r.Context(), d.state, mux.Vars(r)["uuid"], body)
	if err != nil {
		return response.SmartError(err)
	}

	wire, err := pool.API(r.Context(), d.state)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("network_pool.update", wire)

	return response.SyncResponse(wire)
}

func networkPoolDelete(d *Daemon, r *http.Request) response.Response {
	uuid := mux.Vars(r)["uuid"]

	current, err := models.GetNetworkPool(r.Context(), d.state, uuid)
	if err != nil {
		return response.SmartError(err)
	}

	currentWire, err := current.API(r.Context(), d.state)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, currentWire)
	if err != nil {
		return response.SmartError(err)
	}

	err = models.DeleteNetworkPool(r.Context(), d.state, uuid)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("network_pool.delete", map[string]any{"uuid": uuid})

	return response.EmptySyncResponse
}

// networkPoolNICsPost provisions a NIC against the pool, trying its member
// networks in order.
func networkPoolNICsPost(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	pool, err := models.GetNetworkPool(r.Context(), d.state, mux.Vars(r)["uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	nic, err := models.ProvisionNICOnPool(r.Context(), d.state, pool, body)
	if err != nil {
		return response.SmartError(err)
	}

	n, err := nicNetwork(r.Context(), d.state, nic)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("nic.create", nic.API(n))

	return response.SyncResponse(nic.API(n))
}
