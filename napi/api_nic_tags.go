package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/util"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

var nicTagsCmd = APIEndpoint{
	Name: "nic_tags",
	Path: "nic_tags",

	Get:  APIEndpointAction{Handler: nicTagsGet},
	Post: APIEndpointAction{Handler: nicTagsPost},
}

var nicTagCmd = APIEndpoint{
	Name: "nic_tag",
	Path: "nic_tags/{name}",

	Get:    APIEndpointAction{Handler: nicTagGet},
	Put:    APIEndpointAction{Handler: nicTagPut},
	Delete: APIEndpointAction{Handler: nicTagDelete},
}

func nicTagsGet(d *Daemon, r *http.Request) response.Response {
	tags, err := models.ListNICTags(r.Context(), d.state, db.FindOptions{})
	if err != nil {
		return response.SmartError(err)
	}

	out := make([]*api.NICTag, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag.API())
	}

	return response.SyncResponse(out)
}

func nicTagsPost(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	tag, err := models.CreateNICTag(r.Context(), d.state, body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("nic_tag.create", tag.API())

	return response.SyncResponse(tag.API())
}

func nicTagGet(d *Daemon, r *http.Request) response.Response {
	tag, err := models.GetNICTag(r.Context(), d.state, mux.Vars(r)["name"])
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponseETag(tag.API(), tag.API())
}

func nicTagPut(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	current, err := models.GetNICTag(r.Context(), d.state, mux.Vars(r)["name"])
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API())
	if err != nil {
		return response.SmartError(err)
	}

	tag, err := models.UpdateNICTag(r.Context(), d.state, mux.Vars(r)["name"], body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("nic_tag.update", tag.API())

	return response.SyncResponse(tag.API())
}

func nicTagDelete(d *Daemon, r *http.Request) response.Response {
	name := mux.Vars(r)["name"]

	current, err := models.GetNICTag(r.Context(), d.state, name)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API())
	if err != nil {
		return response.SmartError(err)
	}

	err = models.DeleteNICTag(r.Context(), d.state, name)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("nic_tag.delete", map[string]any{"name": name})

	return response.EmptySyncResponse
}
