package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/util"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

var aggregationsCmd = APIEndpoint{
	Name: "aggregations",
	Path: "aggregations",

	Get:  APIEndpointAction{Handler: aggregationsGet},
	Post: APIEndpointAction{Handler: aggregationsPost},
}

var aggregationCmd = APIEndpoint{
	Name: "aggregation",
	Path: "aggregations/{id}",

	Get:    APIEndpointAction{Handler: aggregationGet},
	Put:    APIEndpointAction{Handler: aggregationPut},
	Delete: APIEndpointAction{Handler: aggregationDelete},
}

func aggregationsGet(d *Daemon, r *http.Request) response.Response {
	aggrs, err := models.ListAggregations(r.Context(), d.state, queryParams(r))
	if err != nil {
		return response.SmartError(err)
	}

	out := make([]*api.Aggregation, 0, len(aggrs))
	for _, aggr := range aggrs {
		out = append(out, aggr.API())
	}

	return response.SyncResponse(out)
}

func aggregationsPost(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	aggr, err := models.CreateAggregation(r.Context(), d.state, body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("aggregation.create", aggr.API())

	return response.SyncResponse(aggr.API())
}

func aggregationGet(d *Daemon, r *http.Request) response.Response {
	aggr, err := models.GetAggregation(r.Context(), d.state, mux.Vars(r)["id"])
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponseETag(aggr.API(), aggr.API())
}

func aggregationPut(d *Daemon, r *http.Request) response.Response {
	body, err := parseBody(r)
	if err != nil {
		return response.SmartError(err)
	}

	current, err := models.GetAggregation(r.Context(), d.state, mux.Vars(r)["id"])
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API())
	if err != nil {
		return response.SmartError(err)
	}

	aggr, err := models.UpdateAggregation(r.Context(), d.state, mux.Vars(r)["id"], body)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("aggregation.update", aggr.API())

	return response.SyncResponse(aggr.API())
}

func aggregationDelete(d *Daemon, r *http.Request) response.Response {
	id := mux.Vars(r)["id"]

	current, err := models.GetAggregation(r.Context(), d.state, id)
	if err != nil {
		return response.SmartError(err)
	}

	err = util.EtagCheck(r, current.API())
	if err != nil {
		return response.SmartError(err)
	}

	err = models.DeleteAggregation(r.Context(), d.state, id)
	if err != nil {
		return response.SmartError(err)
	}

	d.events.Publish("aggregation.delete", map[string]any{"id": id})

	return response.EmptySyncResponse
}
