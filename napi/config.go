package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
)

// loadConfig reads the daemon configuration from the given file (optional),
// the NAPI_* environment and the defaults, in ascending precedence of
// defaults < file < environment.
func loadConfig(path string) (*state.Config, error) {
	v := viper.New()

	v.SetDefault("listen_address", "127.0.0.1:8080")
	v.SetDefault("db_path", "napi.db")
	v.SetDefault("underlay_nic_tag", "sdc_underlay")
	v.SetDefault("overlay_nic_tag", "sdc_overlay")
	v.SetDefault("fabrics_enabled", false)
	v.SetDefault("mac_oui", "90:b8:d0")
	v.SetDefault("etag_retries", 3)
	v.SetDefault("alloc_retries", 10)
	v.SetDefault("vxlan_port", 4789)

	v.SetEnvPrefix("napi")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		err := v.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("Failed to read config file %q: %w", path, err)
		}
	}

	config := &state.Config{
		ListenAddress:  v.GetString("listen_address"),
		DBPath:         v.GetString("db_path"),
		AdminUUID:      v.GetString("admin_uuid"),
		UnderlayTag:    v.GetString("underlay_nic_tag"),
		OverlayTag:     v.GetString("overlay_nic_tag"),
		FabricsEnabled: v.GetBool("fabrics_enabled"),
		OUI:            v.GetString("mac_oui"),
		EtagRetries:    v.GetInt("etag_retries"),
		AllocRetries:   v.GetInt("alloc_retries"),
		VXLANPort:      v.GetInt("vxlan_port"),
	}

	err := validateConfig(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

func validateConfig(config *state.Config) error {
	if config.AdminUUID == "" {
		return fmt.Errorf("admin_uuid must be set")
	}

	err := uuid.Validate(config.AdminUUID)
	if err != nil {
		return fmt.Errorf("admin_uuid is not a valid UUID: %q", config.AdminUUID)
	}

	oui := strings.ToLower(strings.ReplaceAll(config.OUI, ":", ""))
	if len(oui) != 6 {
		return fmt.Errorf("mac_oui must be three octets: %q", config.OUI)
	}

	for _, c := range oui {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return fmt.Errorf("mac_oui must be hexadecimal: %q", config.OUI)
		}
	}

	config.OUI = oui[0:2] + ":" + oui[2:4] + ":" + oui[4:6]

	if config.VXLANPort <= 0 || config.VXLANPort > 65535 {
		return fmt.Errorf("vxlan_port out of range: %d", config.VXLANPort)
	}

	if config.FabricsEnabled && config.OverlayTag == "" {
		return fmt.Errorf("overlay_nic_tag must be set when fabrics are enabled")
	}

	return nil
}
