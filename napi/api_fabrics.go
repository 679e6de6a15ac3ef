package main

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/util"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

var fabricVLANsCmd = APIEndpoint{
	Name: "fabric_vlans",
	Path: "fabrics/{owner_uuid}/vlans",

	Get:  APIEndpointAction{Handler: fabricVLANsGet},
	Post: APIEndpointAction{Handler: fabricVLANsPost},
}

var fabricVLANCmd = APIEndpoint{
	Name: "fabric_vlan",
	Path: "fabrics/{owner_uuid}/vlans/{vlan_id}",

	Get:    APIEndpointAction{Handler: fabricVLANGet},
	Put:    APIEndpointAction{Handler: fabricVLANPut},
	Delete: APIEndpointAction{Handler: fabricVLANDelete},
}

var fabricNetworksCmd = APIEndpoint{
	Name: "fabric_networks",
	Path: "fabrics/{owner_uuid}/vlans/{vlan_id}/networks",

	Get:  APIEndpointAction{Handler: fabricNetworksGet},
	Post: APIEndpointAction{Handler: fabricNetworksPost},
}

var fabricNetworkCmd = APIEndpoint{
	Name: "fabric_network",
	Path: "fabrics/{owner_uuid}/vlans/{vlan_id}/networks/{uuid}",

	Get:    APIEndpointAction{Handler: fabricNetworkGet},
	Delete: APIEndpointAction{Handler: fabricNetworkDelete},
}

func parseVLANIDVar(r *http.Request) (int, error) {
	raw := mux.Vars(r)["vlan_id"]

	vlanID, err := strconv.Atoi(raw)
	if err != nil || vlanID < 0 || vlanID > 4094 {
		return 0, api.InvalidParams(api.InvalidParam("vlan_id", "invalid VLAN ID", raw))
	}

	return vlanID, nil
}

func fabricVLANsGet(d *Daemon, r *http.Request) response.Response {
	vlans, err := models.ListFabricVLANs(r.Context(), d.state, mux.Vars(r)["owner_uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	out := make([]*api.FabricVLAN, 0, len(vlans))
	for _, vlan := range vlans {
		out = append(out, vlan.API())
	}

	return response.SyncResponse(out)
}

func fabricVLANsPost(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	vlan, err := models.CreateFabricVLAN(r.Context(), d.state, mux.Vars(r)["owner_uuid"], body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("fabric_vlan.create", vlan.API())

	return response.SyncResponse(vlan.API())
}

func fabricVLANGet(d *Daemon, r *http.Request) response.Response {
	vlanID, err := parseVLANIDVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	vlan, err := models.GetFabricVLAN(r.Context(), d.state, mux.Vars(r)["owner_uuid"], vlanID)
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponseETag(vlan.API(), vlan.API())
}

func fabricVLANPut(d *Daemon, r *http.Request) response.Response {
	vlanID, err := parseVLANIDVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	current, err := models.GetFabricVLAN(r.Context(), d.state, mux.Vars(r)["owner_uuid"], vlanID)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API())
	if err != nil {
		return response.SmartError(err)
	}

	vlan, err := models.UpdateFabricVLAN(r.Context(), d.state, mux.Vars(r)["owner_uuid"], vlanID, body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("fabric_vlan.update", vlan.API())

	return response.SyncResponse(vlan.API())
}

func fabricVLANDelete(d *Daemon, r *http.Request) response.Response {
	vlanID, err := parseVLANIDVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	owner := mux.Vars(r)["owner_uuid"]

	current, err := models.GetFabricVLAN(r.Context(), d.state, owner, vlanID)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API())
	if err != nil {
		return response.SmartError(err)
	}

	err = models.DeleteFabricVLAN(r.Context(), d.state, owner, vlanID)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("fabric_vlan.delete", map[string]any{"owner_uuid": owner, "vlan_id": vlanID})

	return response.EmptySyncResponse
}

func fabricNetworksGet(d *Daemon, r *http.Request) response.Response {
	vlanID, err := parseVLANIDVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	networks, err := models.ListFabricNetworks(r.Context(), d.state, mux.Vars(r)["owner_uuid"], vlanID)
	if err != nil {
		return response.SmartError(err)
	}

	out := make([]*api.Network, 0, len(networks))
	for _, n := range networks {
		out = append(out, n.API())
	}

	return response.SyncResponse(out)
}

func fabricNetworksPost(d *Daemon, r *http.Request) response.Response {
	vlanID, err := parseVLANIDVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	n, err := models.CreateFabricNetwork(r.Context(), d.state, mux.Vars(r)["owner_uuid"], vlanID, body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("network.create", n.API())

	return response.SyncResponse(n.API())
}

func fabricNetworkGet(d *Daemon, r *http.Request) response.Response {
	vlanID, err := parseVLANIDVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	n, err := models.GetFabricNetwork(r.Context(), d.state, mux.Vars(r)["owner_uuid"], vlanID, mux.Vars(r)["uuid"])
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponseETag(n.API(), n.API())
}

func fabricNetworkDelete(d *Daemon, r *http.Request) response.Response {
	vlanID, err := parseVLANIDVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	uuid := mux.Vars(r)["uuid"]

	current, err := models.GetFabricNetwork(r.Context(), d.state, mux.Vars(r)["owner_uuid"], vlanID, uuid)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API())
	if err != nil {
		return response.SmartError(err)
	}

	err = models.DeleteFabricNetwork(r.Context(), d.state, mux.Vars(r)["owner_uuid"], vlanID, uuid)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("network.delete", map[string]any{"uuid": uuid})

	return response.EmptySyncResponse
}
