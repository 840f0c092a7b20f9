package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultGWBind, cfg.GWBind)
	assert.Equal(t, defaultGSBind, cfg.GSBind)
	assert.Equal(t, defaultGSBind, cfg.GSExternal)
	assert.Equal(t, defaultWorkers, cfg.Workers)
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--gw-bind", "0.0.0.0:9999", "--gs-external", "203.0.113.1:4243"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.GWBind)
	assert.Equal(t, "203.0.113.1:4243", cfg.GSExternal)
}

func TestKey_ColonPathTranslatesToDottedLookup(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg.Key("servers:gs1:address"))

	cfg.v.Set("servers.gs1.address", "10.0.0.1:4243")
	assert.Equal(t, "10.0.0.1:4243", cfg.Key("servers:gs1:address"))
}
