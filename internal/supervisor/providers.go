package supervisor

import (
	"gorm.io/gorm"

	"pylon/internal/config"
	"pylon/internal/perr"
	cfgprov "pylon/internal/providers/config"
	pluginsprov "pylon/internal/providers/plugins"
	reqprov "pylon/internal/providers/requirements"
)

// optString reads a string option with a fallback.
func optString(opts map[string]interface{}, key, fallback string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func optBool(opts map[string]interface{}, key string) bool {
	v, _ := opts[key].(bool)
	return v
}

// buildPluginsProvider constructs the plugins-source backend named by spec.
// The folder backend's path falls back to the MODULES_PATH environment
// variable.
func buildPluginsProvider(spec config.ProviderSpec) (pluginsprov.Provider, error) {
	switch spec.Type {
	case "folder", "":
		path := optString(spec.Options, "path", config.EnvDefault("MODULES_PATH", "plugins"))
		return pluginsprov.NewFolderProvider(path), nil
	case "git":
		repo := optString(spec.Options, "repo", "")
		if repo == "" {
			return nil, perr.NewConfigurationError("git plugins provider needs a repo option")
		}
		return pluginsprov.NewGitProvider(
			repo,
			optString(spec.Options, "branch", "main"),
			optString(spec.Options, "sub_path", ""),
			optString(spec.Options, "auth_token", ""),
			optString(spec.Options, "cache_dir", ""),
		), nil
	default:
		return nil, perr.NewConfigurationError("unknown plugins provider type %q", spec.Type)
	}
}

// buildRequirementsProvider constructs the requirements-cache backend named
// by spec.
func buildRequirementsProvider(spec config.ProviderSpec) (reqprov.Provider, error) {
	switch spec.Type {
	case "folder", "":
		path := optString(spec.Options, "path", "requirements-cache")
		return reqprov.NewFolderProvider(path), nil
	case "s3":
		bucket := optString(spec.Options, "bucket", "")
		if bucket == "" {
			return nil, perr.NewConfigurationError("s3 requirements provider needs a bucket option")
		}
		return reqprov.NewS3Provider(
			bucket,
			optString(spec.Options, "prefix", "requirements"),
			optString(spec.Options, "region", "us-east-1"),
			optString(spec.Options, "endpoint", ""),
			optString(spec.Options, "access_key", ""),
			optString(spec.Options, "secret_key", ""),
			optString(spec.Options, "cache_dir", ""),
			optBool(spec.Options, "use_ssl"),
		)
	default:
		return nil, perr.NewConfigurationError("unknown requirements provider type %q", spec.Type)
	}
}

// buildConfigProvider constructs the per-plugin config backend named by
// spec. The db variant wraps a folder backend: reads fall through when no
// row exists, writes go to the database only.
func buildConfigProvider(spec config.ProviderSpec, engine *gorm.DB) (cfgprov.Provider, error) {
	switch spec.Type {
	case "folder", "":
		path := optString(spec.Options, "path", "plugin-config")
		return cfgprov.NewFolderProvider(path), nil
	case "db":
		if engine == nil {
			return nil, perr.NewConfigurationError("db config provider needs a configured database")
		}
		backend := cfgprov.NewFolderProvider(optString(spec.Options, "path", "plugin-config"))
		return cfgprov.NewDBProvider(engine, backend), nil
	default:
		return nil, perr.NewConfigurationError("unknown config provider type %q", spec.Type)
	}
}
