// Package reverseproxy registers and unregisters this node's Traefik KV
// route in Redis, so a reverse proxy polling the same Redis instance picks
// up each node as it comes and goes. Every written key is tracked so
// unregistration can delete exactly what was set, in reverse order.
package reverseproxy

import (
	"fmt"

	"github.com/garyburd/redigo/redis"

	"pylon/pkg/logging"
)

// Config is the "traefik" section of the process configuration root.
type Config struct {
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisUseSSL   bool

	RootKey            string
	Rule               string
	Entrypoint         string
	NodeURL            string
	ForwardAuthAddress string
	ForwardAuthHeaders string
}

// DefaultConfig fills in the defaults applied when a setting is absent.
func DefaultConfig() Config {
	return Config{
		RedisPort:  6379,
		RootKey:    "traefik",
		Entrypoint: "http",
	}
}

// Registrar writes (and, on Close, deletes) this node's Traefik KV route.
type Registrar struct {
	cfg      Config
	nodeName string
	pool     *redis.Pool
	keys     []string
}

// NewRegistrar constructs a Registrar for nodeName, using cfg.NodeURL as
// the registered load-balancer target (callers resolve the hostname/port
// fallback themselves before building Config).
func NewRegistrar(cfg Config, nodeName string) *Registrar {
	return &Registrar{
		cfg:      cfg,
		nodeName: nodeName,
		pool: &redis.Pool{
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
					redis.DialPassword(cfg.RedisPassword),
					redis.DialUseTLS(cfg.RedisUseSSL),
				)
			},
		},
	}
}

// Register writes the service/middleware/router keys for this node,
// tracking every key it sets for a later symmetric Unregister.
func (r *Registrar) Register() error {
	logging.Info("ReverseProxy", "registering traefik route for node '%s'", r.nodeName)

	conn := r.pool.Get()
	defer conn.Close()

	set := func(key, value string) error {
		if _, err := conn.Do("SET", key, value); err != nil {
			return fmt.Errorf("reverseproxy: setting %s: %w", key, err)
		}
		r.keys = append(r.keys, key)
		return nil
	}

	root := r.cfg.RootKey

	if err := set(fmt.Sprintf("%s/http/services/%s/loadbalancer/servers/0/url", root, r.nodeName), r.cfg.NodeURL); err != nil {
		return err
	}

	hasAuth := r.cfg.ForwardAuthAddress != "" && r.cfg.ForwardAuthHeaders != ""
	if hasAuth {
		if err := set(fmt.Sprintf("%s/http/middlewares/%s/forwardauth/address", root, r.nodeName), r.cfg.ForwardAuthAddress); err != nil {
			return err
		}
		if err := set(fmt.Sprintf("%s/http/middlewares/%s/forwardauth/authResponseHeaders", root, r.nodeName), r.cfg.ForwardAuthHeaders); err != nil {
			return err
		}
	}

	if err := set(fmt.Sprintf("%s/http/routers/%s/entrypoints/0", root, r.nodeName), r.cfg.Entrypoint); err != nil {
		return err
	}
	if err := set(fmt.Sprintf("%s/http/routers/%s/rule", root, r.nodeName), r.cfg.Rule); err != nil {
		return err
	}
	if hasAuth {
		if err := set(fmt.Sprintf("%s/http/routers/%s/middlewares", root, r.nodeName), r.nodeName); err != nil {
			return err
		}
	}
	if err := set(fmt.Sprintf("%s/http/routers/%s/service", root, r.nodeName), r.nodeName); err != nil {
		return err
	}

	return nil
}

// Unregister deletes every key Register wrote, in reverse order, and closes
// the Redis connection pool.
func (r *Registrar) Unregister() error {
	logging.Info("ReverseProxy", "unregistering traefik route for node '%s'", r.nodeName)

	conn := r.pool.Get()
	defer conn.Close()
	defer r.pool.Close()

	var firstErr error
	for len(r.keys) > 0 {
		key := r.keys[len(r.keys)-1]
		r.keys = r.keys[:len(r.keys)-1]
		if _, err := conn.Do("DEL", key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("reverseproxy: deleting %s: %w", key, err)
		}
	}
	return firstErr
}

// DefaultRule builds the PathPrefix rule used when no explicit rule is
// configured.
func DefaultRule(urlPrefix string) string {
	if urlPrefix == "" {
		urlPrefix = "/"
	}
	return fmt.Sprintf("PathPrefix(`%s`)", urlPrefix)
}
