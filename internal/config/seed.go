package config

import (
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"pylon/internal/perr"
)

// seedHTTPTimeout bounds the url: scheme fetch so a dead config server
// fails the boot promptly instead of hanging it.
const seedHTTPTimeout = 30 * time.Second

// ResolveSeed turns a CONFIG_SEED value of the form "<tag>:<data>" into the
// raw YAML bytes of the configuration root. Three schemes are supported:
//
//	base64:<data>  - inline base64-encoded YAML
//	file:<path>    - read from the local filesystem
//	url:<address>  - fetch over HTTP(S)
//
// An empty seed, an unknown tag, or a fetch failure is a ConfigurationError
// (fatal at boot, exit 1).
func ResolveSeed(seed string) ([]byte, error) {
	if seed == "" {
		return nil, perr.NewConfigurationError("CONFIG_SEED is not set")
	}
	tag, data, found := strings.Cut(seed, ":")
	if !found {
		return nil, perr.NewConfigurationError("CONFIG_SEED %q is not in <tag>:<data> form", seed)
	}
	switch tag {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, perr.NewConfigurationError("CONFIG_SEED base64 payload is invalid: %v", err)
		}
		return decoded, nil
	case "file":
		content, err := os.ReadFile(data)
		if err != nil {
			return nil, perr.NewConfigurationError("CONFIG_SEED file %q unreadable: %v", data, err)
		}
		return content, nil
	case "url":
		return fetchSeed(data)
	default:
		return nil, perr.NewConfigurationError("CONFIG_SEED tag %q is not one of base64, file, url", tag)
	}
}

func fetchSeed(address string) ([]byte, error) {
	client := &http.Client{Timeout: seedHTTPTimeout}
	resp, err := client.Get(address)
	if err != nil {
		return nil, perr.NewConfigurationError("CONFIG_SEED fetch from %q failed: %v", address, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, perr.NewConfigurationError("CONFIG_SEED fetch from %q returned %s", address, resp.Status)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.NewConfigurationError("CONFIG_SEED fetch from %q failed reading body: %v", address, err)
	}
	return content, nil
}

// Env looks up name with the documented prefix precedence: PYLON_<name>
// first, then CORE_<name>, then the empty string.
func Env(name string) string {
	if v, ok := os.LookupEnv("PYLON_" + name); ok {
		return v
	}
	if v, ok := os.LookupEnv("CORE_" + name); ok {
		return v
	}
	return ""
}

// EnvBool is Env with truthiness parsing ("1", "true", "yes", "on").
func EnvBool(name string) bool {
	switch strings.ToLower(Env(name)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// EnvDefault is Env with a fallback when both prefixed variables are unset.
func EnvDefault(name, fallback string) string {
	if v := Env(name); v != "" {
		return v
	}
	return fallback
}
