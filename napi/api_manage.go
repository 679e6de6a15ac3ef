package main

import (
	"net/http"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
)

var manageGCCmd = APIEndpoint{
	Name: "manage_gc",
	Path: "manage/gc",

	Post: APIEndpointAction{Handler: manageGCPost},
}

// manageGCPost collects overlay mapping tombstones left behind by deleted
// fabric NICs and IP buckets stranded by interrupted network deletions.
func manageGCPost(d *Daemon, r *http.Request) response.Response {
	mappings, err := models.GCOverlayMappings(r.Context(), d.state)
	if err != nil {
		return response.SmartError(err)
	}

	buckets, err := models.GCOrphanIPBuckets(r.Context(), d.state)
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponse(map[string]any{
		"overlay_mappings_removed": mappings,
		"ip_buckets_removed":       buckets,
	})
}
