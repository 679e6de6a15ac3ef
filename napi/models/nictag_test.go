package models_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

func TestNICTagCreate(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	tag, err := models.CreateNICTag(ctx, s, map[string]any{"name": "external", "mtu": 9000})
	require.NoError(t, err)
	assert.Equal(t, "external", tag.Name)
	assert.Equal(t, 9000, tag.MTU)
	assert.NotEmpty(t, tag.UUID)

	// The default MTU applies when unspecified.
	tag, err = models.CreateNICTag(ctx, s, map[string]any{"name": "internal"})
	require.NoError(t, err)
	assert.Equal(t, models.MTUDefault, tag.MTU)

	// Names are unique.
	_, err = models.CreateNICTag(ctx, s, map[string]any{"name": "external"})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// The admin tag must keep the default MTU.
	_, err = models.CreateNICTag(ctx, s, map[string]any{"name": "admin", "mtu": 9000})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	_, err = models.CreateNICTag(ctx, s, map[string]any{"name": "bad name!"})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)
}

func TestNICTagGetList(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "beta")
	createTag(t, s, "alpha")

	tag, err := models.GetNICTag(ctx, s, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", tag.Name)

	_, err = models.GetNICTag(ctx, s, "missing")
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	tags, err := models.ListNICTags(ctx, s, db.FindOptions{})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "alpha", tags[0].Name)
	assert.Equal(t, "beta", tags[1].Name)
}

func TestNICTagUpdate(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "storage")

	// Rename keeps the UUID.
	old, err := models.GetNICTag(ctx, s, "storage")
	require.NoError(t, err)

	tag, err := models.UpdateNICTag(ctx, s, "storage", map[string]any{"name": "storage2"})
	require.NoError(t, err)
	assert.Equal(t, "storage2", tag.Name)
	assert.Equal(t, old.UUID, tag.UUID)

	_, err = models.GetNICTag(ctx, s, "storage")
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	// An empty update is rejected.
	_, err = models.UpdateNICTag(ctx, s, "storage2", map[string]any{})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// Renaming onto an existing tag is a duplicate.
	createTag(t, s, "other")
	_, err = models.UpdateNICTag(ctx, s, "storage2", map[string]any{"name": "other"})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// The admin tag cannot be updated, external cannot be renamed.
	createTag(t, s, "admin")
	_, err = models.UpdateNICTag(ctx, s, "admin", map[string]any{"mtu": 1500})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	createTag(t, s, "external")
	_, err = models.UpdateNICTag(ctx, s, "external", map[string]any{"name": "outside"})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	tag, err = models.UpdateNICTag(ctx, s, "external", map[string]any{"mtu": 9000})
	require.NoError(t, err)
	assert.Equal(t, 9000, tag.MTU)
}

func TestNICTagUpdateInUse(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	_, err := models.CreateNICTag(ctx, s, map[string]any{"name": "prod", "mtu": 9000})
	require.NoError(t, err)

	n := createNetwork(t, s, "net0", "prod", "10.1.0.0/24", "10.1.0.10", "10.1.0.250")

	// A referenced tag cannot be renamed.
	_, err = models.UpdateNICTag(ctx, s, "prod", map[string]any{"name": "prod2"})
	require.True(t, api.StatusErrorCheck(err, 409), "expected 409, got %v", err)

	apiErr := err.(*api.Error)
	require.Len(t, apiErr.Errors, 1)
	assert.Equal(t, n.UUID, apiErr.Errors[0].Invalid)

	// The MTU cannot shrink below a referencing network's. The network
	// inherited the tag MTU of 9000.
	_, err = models.UpdateNICTag(ctx, s, "prod", map[string]any{"mtu": 1500})
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	// Growing is fine, as is raising networks out of the way first.
	_, err = models.UpdateNICTag(ctx, s, "prod", map[string]any{"mtu": 9000})
	assert.NoError(t, err)
}

func TestNICTagDelete(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	createTag(t, s, "scratch")
	require.NoError(t, models.DeleteNICTag(ctx, s, "scratch"))

	err := models.DeleteNICTag(ctx, s, "scratch")
	assert.True(t, api.StatusErrorCheck(err, 404), "expected 404, got %v", err)

	createTag(t, s, "admin")
	err = models.DeleteNICTag(ctx, s, "admin")
	assert.True(t, api.StatusErrorCheck(err, 422), "expected 422, got %v", err)

	createTag(t, s, "used")
	createNetwork(t, s, "net0", "used", "10.2.0.0/24", "10.2.0.10", "10.2.0.250")

	err = models.DeleteNICTag(ctx, s, "used")
	assert.True(t, api.StatusErrorCheck(err, 409), "expected 409, got %v", err)
}
