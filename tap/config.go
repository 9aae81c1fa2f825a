package tap

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/config"
)

type Config struct {
	AuthToken string `yaml:"auth_token" json:"auth_token" validate:"required"`
	APIURL    string `yaml:"api_url" json:"api_url" validate:"required,url"`
	AccountID int64  `yaml:"account_id" json:"account_id" validate:"required,gt=0"`
	// StartDate is the RFC 3339 lower bound for replication-keyed streams
	// that have no bookmark yet.
	StartDate string `yaml:"start_date" json:"start_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	PageSize  int    `yaml:"page_size" json:"page_size" validate:"min=1,max=1000"`
	// StreamPageSizes overrides PageSize per stream name.
	StreamPageSizes   map[string]int `yaml:"stream_page_sizes" json:"stream_page_sizes" validate:"dive,min=1,max=1000"`
	RequestsPerSecond float64        `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	MaxRetries        int            `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`
	MetricsPushURL    string         `yaml:"metrics_push_url" json:"metrics_push_url" validate:"omitempty,url"`
}

// StartTime parses StartDate; the zero time means no lower bound.
func (c Config) StartTime() (time.Time, error) {
	if c.StartDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.StartDate)
	if err != nil {
		return time.Time{}, &ConfigError{Reason: fmt.Sprintf("start_date %q is not RFC 3339", c.StartDate)}
	}
	return t, nil
}

// PageSizeFor returns the page size requested for stream.
func (c Config) PageSizeFor(stream string) int {
	if size, ok := c.StreamPageSizes[stream]; ok && size > 0 {
		return size
	}
	if c.PageSize > 0 {
		return c.PageSize
	}
	return ServerDefaultPageSize
}

// Validate checks field constraints and that per-stream overrides name
// known streams.
func (c Config) Validate(streams *Registry) error {
	if err := Validate(c); err != nil {
		return &ConfigError{Reason: err.Error()}
	}
	if _, err := c.StartTime(); err != nil {
		return err
	}
	if streams != nil {
		for name := range c.StreamPageSizes {
			if _, ok := streams.Stream(name); !ok {
				return &ConfigError{Stream: name, Reason: "stream_page_sizes names an unknown stream"}
			}
		}
	}
	return nil
}

type CompositeEnvVar interface {
	LookupEnv(child string) (string, bool)
}

// JSONCompositeEnvVar looks values up in a single env var holding a JSON
// object, e.g. TAP_TALONONE_SECRETS={"AUTH_TOKEN":"..."}.
type JSONCompositeEnvVar struct {
	Parent string
}

func (c JSONCompositeEnvVar) LookupEnv(child string) (string, bool) {
	if c.Parent != "" {
		s := os.Getenv(c.Parent)
		if s != "" {
			m := make(map[string]string)
			err := json.Unmarshal([]byte(s), &m)
			if err == nil {
				v, exists := m[child]
				return v, exists
			}
		}
	}
	return "", false
}

// ChainedEnvVar returns the first hit of its lookups.
type ChainedEnvVar []CompositeEnvVar

func (c ChainedEnvVar) LookupEnv(child string) (string, bool) {
	for _, lookup := range c {
		if v, ok := lookup.LookupEnv(child); ok {
			return v, ok
		}
	}
	return "", false
}

type YAMLConfigUnmarshaler struct{}

// Unmarshal merges sources in order, later ones overriding earlier ones,
// expanding ${NAME} references through compev.
func (u YAMLConfigUnmarshaler) Unmarshal(compev CompositeEnvVar, sources ...ConfigFile) (Config, error) {
	var result Config
	var options []config.YAMLOption
	for _, s := range sources {
		if s.Length > 0 {
			options = append(options, config.Source(s.Reader))
		}
		if s.Values != nil {
			options = append(options, config.Static(s.Values))
		}
	}
	options = append(options, config.Expand(compev.LookupEnv))
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	err = yaml.Get(config.Root).Populate(&result)
	if err != nil {
		return result, fmt.Errorf("failed to read config %w", err)
	}
	return result, nil
}
