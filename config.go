package offlineproxy

import (
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML representation of a worker configuration,
// used by the command line binary.
type FileConfig struct {
	Version        string   `yaml:"version"`
	Origin         string   `yaml:"origin"`
	Host           string   `yaml:"host"`
	APIHost        string   `yaml:"apiHost"`
	APIPathSegment string   `yaml:"apiPathSegment"`
	StaticPrefix   string   `yaml:"staticPrefix"`
	Assets         []string `yaml:"assets"`
	FallbackPage   string   `yaml:"fallbackPage"`
	WriteThrough   bool     `yaml:"writeThrough"`
}

func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
