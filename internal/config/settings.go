// Package config loads and validates the process configuration root: a
// YAML document resolved from the CONFIG_SEED environment variable, layered
// with environment overrides via viper, then handed to the lifecycle
// supervisor as a typed Settings tree, with defaults merged before
// validation.
package config

// Settings is the typed configuration root. Field layout mirrors the YAML
// document; absent sections keep their zero value and the consuming
// component applies its own defaults.
type Settings struct {
	Server   ServerSettings   `yaml:"server" mapstructure:"server"`
	Modules  ModulesSettings  `yaml:"modules" mapstructure:"modules"`
	Database DatabaseSettings `yaml:"database" mapstructure:"database"`
	Sessions SessionsSettings `yaml:"sessions" mapstructure:"sessions"`
	Events   EventsSettings   `yaml:"events" mapstructure:"events"`
	RPC      RPCSettings      `yaml:"rpc" mapstructure:"rpc"`
	SocketIO SocketIOSettings `yaml:"socketio" mapstructure:"socketio"`
	Traefik  TraefikSettings  `yaml:"traefik" mapstructure:"traefik"`
	Exposure ExposureSettings `yaml:"exposure" mapstructure:"exposure"`
	Secrets  map[string]string `yaml:"secrets" mapstructure:"secrets"`
}

// ServerSettings is the "server" section.
type ServerSettings struct {
	Host        string            `yaml:"host" mapstructure:"host"`
	Port        int               `yaml:"port" mapstructure:"port"`
	Path        string            `yaml:"path" mapstructure:"path"`
	Proxy       bool              `yaml:"proxy" mapstructure:"proxy"`
	Health      HealthSettings    `yaml:"health" mapstructure:"health"`
	UseReloader bool              `yaml:"use_reloader" mapstructure:"use_reloader"`
	Kwargs      map[string]string `yaml:"kwargs" mapstructure:"kwargs"`
}

// HealthSettings enables the three health endpoints by path; an empty value
// disables that endpoint.
type HealthSettings struct {
	Healthz string `yaml:"healthz" mapstructure:"healthz"`
	Livez   string `yaml:"livez" mapstructure:"livez"`
	Readyz  string `yaml:"readyz" mapstructure:"readyz"`
}

// ModulesSettings is the "modules" section: the two load phases, the
// requirements-install policy, and the three provider selections.
type ModulesSettings struct {
	Preload      []string             `yaml:"preload" mapstructure:"preload"`
	Skip         []string             `yaml:"skip" mapstructure:"skip"`
	Requirements RequirementsPolicy   `yaml:"requirements" mapstructure:"requirements"`
	Plugins      ProviderSettings     `yaml:"plugins" mapstructure:"plugins"`
	ReqProvider  ProviderSettings     `yaml:"requirements_provider" mapstructure:"requirements_provider"`
	Config       ProviderSettings     `yaml:"config" mapstructure:"config"`
	GlobalConfig map[string]yamlValue `yaml:"config_override" mapstructure:"config_override"`
}

type yamlValue = map[string]interface{}

// RequirementsPolicy selects the cross-plugin dependency install behavior.
type RequirementsPolicy struct {
	Mode       string `yaml:"mode" mapstructure:"mode"`             // relaxed | constrained | strict
	Activation string `yaml:"activation" mapstructure:"activation"` // steps | bulk
	Cache      bool   `yaml:"cache" mapstructure:"cache"`
}

// ProviderSettings selects a provider backend by type and carries its
// backend-specific options verbatim.
type ProviderSettings struct {
	Provider ProviderSpec `yaml:"provider" mapstructure:"provider"`
}

// ProviderSpec is one provider selection.
type ProviderSpec struct {
	Type    string                 `yaml:"type" mapstructure:"type"`
	Options map[string]interface{} `yaml:"options" mapstructure:"options"`
}

// DatabaseSettings configures the optional relational engine backing the
// config provider's DB variant and the per-request session scopes.
type DatabaseSettings struct {
	Path string `yaml:"path" mapstructure:"path"` // sqlite file path; empty disables the engine
}

// SessionsSettings is the "sessions" section.
type SessionsSettings struct {
	Redis RedisSettings `yaml:"redis" mapstructure:"redis"`
}

// RedisSettings is a reusable Redis endpoint block.
type RedisSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	UseSSL   bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// Configured reports whether this block names an endpoint at all.
func (r RedisSettings) Configured() bool { return r.Host != "" }

// EventsSettings is the "events" section: at most one transport should be
// populated; selection precedence is rabbitmq, then redis, then socketio.
type EventsSettings struct {
	RabbitMQ *AMQPSettings     `yaml:"rabbitmq" mapstructure:"rabbitmq"`
	Redis    *RedisSettings    `yaml:"redis" mapstructure:"redis"`
	SocketIO *SocketIOEndpoint `yaml:"socketio" mapstructure:"socketio"`
}

// AMQPSettings is a RabbitMQ endpoint block.
type AMQPSettings struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
}

// SocketIOEndpoint is a websocket relay endpoint block.
type SocketIOEndpoint struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// RPCSettings is the "rpc" section; transports mirror EventsSettings.
type RPCSettings struct {
	RabbitMQ *AMQPSettings     `yaml:"rabbitmq" mapstructure:"rabbitmq"`
	Redis    *RedisSettings    `yaml:"redis" mapstructure:"redis"`
	SocketIO *SocketIOEndpoint `yaml:"socketio" mapstructure:"socketio"`
	IDPrefix string            `yaml:"id_prefix" mapstructure:"id_prefix"`
	Trace    bool              `yaml:"trace" mapstructure:"trace"`
}

// SocketIOSettings is the "socketio" section (this node's own socket server).
type SocketIOSettings struct {
	RabbitMQ           *AMQPSettings  `yaml:"rabbitmq" mapstructure:"rabbitmq"`
	Redis              *RedisSettings `yaml:"redis" mapstructure:"redis"`
	CORSAllowedOrigins string         `yaml:"cors_allowed_origins" mapstructure:"cors_allowed_origins"`
}

// TraefikSettings is the "traefik" section consumed by the reverse-proxy
// registrar.
type TraefikSettings struct {
	Redis              RedisSettings `yaml:"redis" mapstructure:"redis"`
	RootKey            string        `yaml:"rootkey" mapstructure:"rootkey"`
	Rule               string        `yaml:"rule" mapstructure:"rule"`
	Entrypoint         string        `yaml:"entrypoint" mapstructure:"entrypoint"`
	NodeURL            string        `yaml:"node_url" mapstructure:"node_url"`
	ForwardAuthAddress string        `yaml:"forward_auth_address" mapstructure:"forward_auth_address"`
	ForwardAuthHeaders string        `yaml:"forward_auth_headers" mapstructure:"forward_auth_headers"`
}

// ExposureSettings is the "exposure" section.
type ExposureSettings struct {
	EventNode       string         `yaml:"event_node" mapstructure:"event_node"`
	Expose          bool           `yaml:"expose" mapstructure:"expose"`
	Handle          HandleSettings `yaml:"handle" mapstructure:"handle"`
	WSGICallTimeout int            `yaml:"wsgi_call_timeout" mapstructure:"wsgi_call_timeout"` // seconds
	SIOCallTimeout  int            `yaml:"sio_call_timeout" mapstructure:"sio_call_timeout"`   // seconds
	PingInterval    int            `yaml:"ping_interval" mapstructure:"ping_interval"`
	PingTimeout     int            `yaml:"ping_timeout" mapstructure:"ping_timeout"`
	MaxMissedPings  int            `yaml:"max_missed_pings" mapstructure:"max_missed_pings"`
	AnnounceEvery   int            `yaml:"announce_interval" mapstructure:"announce_interval"`
	Debug           bool           `yaml:"debug" mapstructure:"debug"`
}

// HandleSettings is the exposure "handle" sub-section.
type HandleSettings struct {
	Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
	Prefixes []string `yaml:"prefixes" mapstructure:"prefixes"`
}
