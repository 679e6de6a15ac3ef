package models_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
)

func TestParseMAC(t *testing.T) {
	for input, want := range map[string]uint64{
		"90:b8:d0:01:02:03": 0x90b8d0010203,
		"90-b8-d0-01-02-03": 0x90b8d0010203,
		"00:00:00:00:00:01": 1,
	} {
		mac, err := models.ParseMAC(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, mac, "input %q", input)
	}

	// Plain decimal form, as stored by older consumers.
	mac, err := models.ParseMAC(strconv.FormatUint(0x90b8d0010203, 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x90b8d0010203), mac)

	for _, bad := range []string{"", "90:b8:d0", "zz:b8:d0:01:02:03", "281474976710656", "-1"} {
		_, err := models.ParseMAC(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestFormatMAC(t *testing.T) {
	assert.Equal(t, "90:b8:d0:01:02:03", models.FormatMAC(0x90b8d0010203))
	assert.Equal(t, "00:00:00:00:00:00", models.FormatMAC(0))

	// Round trip.
	mac, err := models.ParseMAC(models.FormatMAC(0x123456789abc))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x123456789abc), mac)
}

func TestRandomMAC(t *testing.T) {
	seen := map[uint64]struct{}{}

	for i := 0; i < 32; i++ {
		mac, err := models.RandomMAC("90:b8:d0")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(models.FormatMAC(mac), "90:b8:d0:"))
		seen[mac] = struct{}{}
	}

	assert.Greater(t, len(seen), 1, "generated MACs should vary")

	_, err := models.RandomMAC("not-an-oui")
	assert.Error(t, err)
}
