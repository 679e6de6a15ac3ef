package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/util"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

var networksCmd = APIEndpoint{
	Name: "networks",
	Path: "networks",

	Get:  APIEndpointAction{Handler: networksGet},
	Post: APIEndpointAction{Handler: networksPost},
}

var networkCmd = APIEndpoint{
	Name: "network",
	Path: "networks/{uuid}",

	Get:    APIEndpointAction{Handler: networkGet},
	Put:    APIEndpointAction{Handler: networkPut},
	Delete: APIEndpointAction{Handler: networkDelete},
}

var networkNICsCmd = APIEndpoint{
	Name: "network_nics",
	Path: "networks/{uuid}/nics",

	Post: APIEndpointAction{Handler: networkNICsPost},
}

func networksGet(d *Daemon, r *http.Request) response.Response {
	networks, err := models.ListNetworks(r.Context(), d.state, queryParams(r))
	if err != nil {
		return response.SmartError(err)
	}

	out := make([]*api.Network, 0, len(networks))
	for _, n := range networks {
		out = append(out, n.API())
	}

	return response.SyncResponse(out)
}

func networksPost(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	n, err := models.CreateNetwork(r.Context(), d.state, body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("network.create", n.API())

	return response.SyncResponse(n.API())
}

func networkGet(d *Daemon, r *http.Request) response.Response {
	n, err := models.GetNetworkFor(r.Context(), d.state, mux.Vars(r)["uuid"], queryParams(r))
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponseETag(n.API(), n.API())
}

func networkPut(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	current, err := models.GetNetwork(r.Context(), d.state, mux.Vars(r)["uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API())
	if err != nil {
		return response.SmartError(err)
	}

	n, err := models.UpdateNetwork(r.Context(), d.state, mux.Vars(r)["uuid"], body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("network.update", n.API())

	return response.SyncResponse(n.API())
}

func networkDelete(d *Daemon, r *http.Request) response.Response {
	uuid := mux.Vars(r)["uuid"]

	current, err := models.GetNetwork(r.Context(), d.state, uuid)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API())
	if err != nil {
		return response.SmartError(err)
	}

	err = models.DeleteNetwork(r.Context(), d.state, current.UUID)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("network.delete", map[string]any{"uuid": current.UUID})

	return response.EmptySyncResponse
}

// networkNICsPost provisions a NIC on the network, generating a MAC when the
// caller doesn't supply one.
func networkNICsPost(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	n, err := models.GetNetwork(r.Context(), d.state, mux.Vars(r)["uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	nic, err := models.ProvisionNIC(r.Context(), d.state, n, body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("nic.create", nic.API(n))

	return response.SyncResponse(nic.API(n))
}
