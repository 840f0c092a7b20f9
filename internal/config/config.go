// Package config wires CLI flags and a YAML file into viper, and exposes
// a colon-separated nested key lookup ("servers:gs1:address") so call
// sites can address nested config values without hand-parsing YAML.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved startup configuration for one process running
// both the Gateway and the Game Server roles.
type Config struct {
	GWBind      string // stream (TCP) bind endpoint for the Gateway
	GSBind      string // datagram (UDP) bind endpoint for the Game Server
	GSExternal  string // advertised UDP endpoint, distinct from GSBind behind NAT
	Workers     int    // worker-count hint for the datagram read-loop fan-out
	SharedSecretEnv string // env var name carrying the hex shared secret
	v *viper.Viper
}

const (
	defaultGWBind  = "0.0.0.0:4242"
	defaultGSBind  = "0.0.0.0:4243"
	defaultWorkers = 1
)

// Load parses CLI flags (argv[1:] semantics, on a fresh pflag.FlagSet) and
// an optional YAML config file, and returns the resolved Config: a single
// call at boot, fatal on malformed input. The YAML file is read only when
// --config names one; a named file that cannot be read is an error.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("rtype-server", pflag.ContinueOnError)
	fs.String("gw-bind", defaultGWBind, "Gateway stream bind endpoint")
	fs.String("gs-bind", defaultGSBind, "Game Server datagram bind endpoint")
	fs.String("gs-external", "", "advertised Game Server UDP endpoint (defaults to gs-bind)")
	fs.Int("workers", defaultWorkers, "datagram read-loop worker hint")
	fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix("RTYPE")
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		v.WatchConfig()
		v.OnConfigChange(func(fsnotify.Event) {})
	}

	external, _ := fs.GetString("gs-external")
	if external == "" {
		external = v.GetString("gs-bind")
	}

	return &Config{
		GWBind:          v.GetString("gw-bind"),
		GSBind:          v.GetString("gs-bind"),
		GSExternal:      external,
		Workers:         v.GetInt("workers"),
		SharedSecretEnv: "R_TYPE_SHARED_SECRET",
		v:               v,
	}, nil
}

// Key looks up a colon-separated nested key ("servers:gs1:address") in
// the loaded YAML file, translated to viper's dotted-key accessor.
func (c *Config) Key(key string) interface{} {
	return c.v.Get(strings.ReplaceAll(key, ":", "."))
}
