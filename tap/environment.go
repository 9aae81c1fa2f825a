package tap

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/iancoleman/strcase"
)

// EnvPrefix namespaces every environment variable the tap reads.
const EnvPrefix = "TAP_TALONONE"

// SecretsEnvVar may hold a JSON object of secrets, e.g. {"AUTH_TOKEN":"..."},
// for ${AUTH_TOKEN} references in config files.
var SecretsEnvVar = EnvName("secrets")

// EnvName returns the prefixed env var name for a config key,
// e.g. auth_token -> TAP_TALONONE_AUTH_TOKEN.
func EnvName(key string) string {
	return EnvPrefix + "_" + strcase.ToScreamingSnake(key)
}

// PrefixedEnvVar resolves NAME as TAP_TALONONE_NAME first and NAME second.
type PrefixedEnvVar struct{}

func (PrefixedEnvVar) LookupEnv(child string) (string, bool) {
	if v, ok := os.LookupEnv(EnvName(child)); ok {
		return v, ok
	}
	return os.LookupEnv(child)
}

// DefaultEnvLookup is the ${NAME} resolution order for config files.
func DefaultEnvLookup() CompositeEnvVar {
	return ChainedEnvVar{
		JSONCompositeEnvVar{Parent: SecretsEnvVar},
		PrefixedEnvVar{},
	}
}

// envConfigKeys are the scalar config keys that can be set directly from
// the environment.
var envConfigKeys = []string{
	"auth_token",
	"api_url",
	"account_id",
	"start_date",
	"page_size",
	"requests_per_second",
	"max_retries",
	"metrics_push_url",
}

// EnvironmentConfigFile collects TAP_TALONONE_* variables into a config
// layer. Numeric values are decoded so they populate numeric fields.
func EnvironmentConfigFile() ConfigFile {
	values := map[string]any{}
	for _, key := range envConfigKeys {
		v, ok := os.LookupEnv(EnvName(key))
		if !ok || v == "" {
			continue
		}
		values[key] = envValue(key, v)
	}
	if len(values) == 0 {
		return ConfigFile{Name: "environment"}
	}
	return ConfigFile{Name: "environment", Values: values}
}

func envValue(key string, v string) any {
	switch key {
	case "account_id", "page_size", "max_retries":
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i
		}
	case "requests_per_second":
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return v
}

// LoadConfig layers the built in defaults, the config file at path (if
// any) and TAP_TALONONE_* variables, in that order, then validates the result.
func LoadConfig(path string, streams *Registry) (Config, error) {
	var result Config
	defaults, err := DefaultConfigFiles.MustFindDefaultsConfigFile()
	if err != nil {
		return result, fmt.Errorf("failed to read defaults config %w", err)
	}
	sources := []ConfigFile{defaults}
	if path != "" {
		file, err := ReadConfigFile(path)
		if err != nil {
			return result, err
		}
		sources = append(sources, file)
	}
	sources = append(sources, EnvironmentConfigFile())

	result, err = YAMLConfigUnmarshaler{}.Unmarshal(DefaultEnvLookup(), sources...)
	if err != nil {
		return result, fmt.Errorf("failed to load config %w", err)
	}
	if err := result.Validate(streams); err != nil {
		return result, err
	}
	return result, nil
}
