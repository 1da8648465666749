package survey

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration file.
type Config struct {
	Survey    SurveyConfig    `yaml:"survey" json:"survey"`
	Algorithm AlgorithmConfig `yaml:"algorithm" json:"algorithm"`
	Network   NetworkConfig   `yaml:"network" json:"network"`
	MQTT      MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	EventLog  EventLogConfig  `yaml:"eventLog,omitempty" json:"eventLog,omitempty"`
}

// SurveyConfig holds session level settings.
type SurveyConfig struct {
	Name           string        `yaml:"name,omitempty" json:"name,omitempty"`
	AutoStart      bool          `yaml:"autoStart,omitempty" json:"autoStart,omitempty"`
	StatusInterval time.Duration `yaml:"statusInterval" json:"statusInterval" validate:"gte=0"`
}

// NetworkConfig locates the target line network.
type NetworkConfig struct {
	Path       string `yaml:"path" json:"path" validate:"required"`
	IDProperty string `yaml:"idProperty,omitempty" json:"idProperty,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
	PositionTopic string `yaml:"positionTopic,omitempty" json:"positionTopic,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
}

// HTTPConfig holds the HTTP server settings.
type HTTPConfig struct {
	Port           int      `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty" json:"allowedOrigins,omitempty"` // empty allows any origin
}

// EventLogConfig enables the sqlite pass log when Path is set.
type EventLogConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// DefaultConfig returns a config with every optional field filled in.
func DefaultConfig() Config {
	return Config{
		Survey:    SurveyConfig{StatusInterval: time.Second},
		Algorithm: DefaultAlgorithmConfig(),
		MQTT: MQTTConfig{
			ClientID:      "linkpass",
			PositionTopic: "linkpass/positions",
			PublishPrefix: "linkpass",
		},
		HTTP: HTTPConfig{Port: 4040},
	}
}

var validate = validator.New()

// Validate checks field ranges and required values.
func (c *Config) Validate() error {
	return validationError(validate.Struct(c))
}

// ValidateAlgorithm checks an engine configuration on its own, as
// submitted over HTTP.
func ValidateAlgorithm(cfg AlgorithmConfig) error {
	return validationError(validate.Struct(cfg))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return fmt.Errorf("invalid config: %w", err)
}

// LoadConfig loads the configuration from a YAML file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
