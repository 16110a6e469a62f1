package config

import (
	"bytes"
	"strings"

	"github.com/spf13/viper"

	"pylon/internal/perr"
)

// Load resolves CONFIG_SEED, parses the YAML document through viper (so any
// PYLON_-prefixed environment variable can override a settings key, with
// dots mapped to underscores: PYLON_SERVER_PORT=8081 overrides server.port),
// and decodes the merged tree into a Settings value. An empty or
// unparseable document is a ConfigurationError.
func Load() (*Settings, error) {
	raw, err := ResolveSeed(Env("CONFIG_SEED"))
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes raw YAML bytes into Settings with environment overrides
// applied. Split out of Load so tests and the reload worker can feed a
// document directly.
func Parse(raw []byte) (*Settings, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, perr.NewConfigurationError("settings document is empty")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PYLON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, perr.NewConfigurationError("settings document is not valid YAML: %v", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, perr.NewConfigurationError("settings document does not match the expected schema: %v", err)
	}
	applyDefaults(&s)
	return &s, nil
}

func applyDefaults(s *Settings) {
	if s.Server.Host == "" {
		s.Server.Host = "0.0.0.0"
	}
	if s.Server.Port == 0 {
		s.Server.Port = 8080
	}
	if s.Modules.Requirements.Mode == "" {
		s.Modules.Requirements.Mode = "relaxed"
	}
	if s.Modules.Requirements.Activation == "" {
		s.Modules.Requirements.Activation = "steps"
	}
	if s.Modules.Plugins.Provider.Type == "" {
		s.Modules.Plugins.Provider.Type = "folder"
	}
	if s.Modules.ReqProvider.Provider.Type == "" {
		s.Modules.ReqProvider.Provider.Type = "folder"
	}
	if s.Modules.Config.Provider.Type == "" {
		s.Modules.Config.Provider.Type = "folder"
	}
	if s.Exposure.AnnounceEvery == 0 {
		s.Exposure.AnnounceEvery = 15
	}
	if s.Exposure.PingInterval == 0 {
		s.Exposure.PingInterval = 15
	}
	if s.Exposure.PingTimeout == 0 {
		s.Exposure.PingTimeout = 5
	}
	if s.Exposure.MaxMissedPings == 0 {
		s.Exposure.MaxMissedPings = 3
	}
}
