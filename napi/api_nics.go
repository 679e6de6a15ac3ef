package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/util"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

var nicsCmd = APIEndpoint{
	Name: "nics",
	Path: "nics",

	Get:  APIEndpointAction{Handler: nicsGet},
	Post: APIEndpointAction{Handler: nicsPost},
}

var nicCmd = APIEndpoint{
	Name: "nic",
	Path: "nics/{mac}",

	Get:    APIEndpointAction{Handler: nicGet},
	Put:    APIEndpointAction{Handler: nicPut},
	Delete: APIEndpointAction{Handler: nicDelete},
}

// nicNetwork resolves the network joined into a NIC's wire form, tolerating
// IP-less NICs.
func nicNetwork(ctx context.Context, s *state.State, nic *models.NIC) (*models.Network, error) {
	if nic.NetworkUUID == "" {
		return nil, nil
	}

	n, err := models.GetNetwork(ctx, s, nic.NetworkUUID)
	if err != nil {
		if api.StatusErrorCheck(err, http.StatusNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return n, nil
}

func nicsGet(d *Daemon, r *http.Request) response.Response {
	nics, err := models.ListNICs(r.Context(), d.state, queryParams(r))
	if err != nil {
		return response.SmartError(err)
	}

	out := make([]*api.NIC, 0, len(nics))
	for _, nic := range nics {
		n, err := nicNetwork(r.Context(), d.state, nic)
		if err != nil {
			return response.SmartError(err)
		}

		out = append(out, nic.API(n))
	}

	return response.SyncResponse(out)
}

func nicsPost(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	nic, err := models.CreateNIC(r.Context(), d.state, body)
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

func parseMACVar(r *http.Request) (uint64, error) {
	mac, err := models.ParseMAC(mux.Vars(r)["mac"])
	if err != nil {
		return 0, api.InvalidParams(api.InvalidParam("mac", "invalid MAC address", mux.Vars(r)["mac"]))
	}

	return mac, nil
}

func nicGet(d *Daemon, r *http.Request) response.Response {
	mac, err := parseMACVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	nic, err := models.GetNIC(r.Context(), d.state, mac)
	if err != nil {
		return response.SmartError(err)
	}

	n, err := nicNetwork(r.Context(), d.state, nic)
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponseETag(nic.API(n), nic.API(n))
}

func nicPut(d *Daemon, r *http.Request) response.Response {
	mac, err := parseMACVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	current, err := models.GetNIC(r.Context(), d.state, mac)
	if err != nil {
		return response.SmartError(err)
	}

	currentNet, err := nicNetwork(r.Context(), d.state, current)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API(currentNet))
	if err != nil {
		return response.SmartError(err)
	}

	nic, err := models.UpdateNIC(r.Context(), d.state, mac, body)
	if err != nil {
		return response.SmartError(err)
	}

	n, err := nicNetwork(r.Context(), d.state, nic)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("nic.update", nic.API(n))

	return response.SyncResponse(nic.API(n))
}

func nicDelete(d *Daemon, r *http.Request) response.Response {
	mac, err := parseMACVar(r)
	if err != nil {
		return response.SmartError(err)
	}

	current, err := models.GetNIC(r.Context(), d.state, mac)
	if err != nil {
		return response.SmartError(err)
	}

	currentNet, err := nicNetwork(r.Context(), d.state, current)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API(currentNet))
	if err != nil {
		return response.SmartError(err)
	}

	err = models.DeleteNIC(r.Context(), d.state, mac)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("nic.delete", map[string]any{"mac": models.FormatMAC(mac)})

	return response.EmptySyncResponse
}
