package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "sdfc.yaml"

const envPrefix = "SDFC_"

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type AvroConfig struct {
	Namespace string `yaml:"namespace"`
}

// Config tunes the compiler and the CLI.
type Config struct {
	// Dev applies the dev.imports overrides of documents.
	Dev bool `yaml:"dev"`
	// Output is the directory generated interface files are written to.
	Output       string `yaml:"output"`
	DataflowFile string `yaml:"dataflowFile"`
	PackageFile  string `yaml:"packageFile"`

	Log  LogConfig  `yaml:"log"`
	Avro AvroConfig `yaml:"avro"`
}

func Default() Config {
	return Config{
		Output:       ".wit",
		DataflowFile: "dataflow.yaml",
		PackageFile:  "sdf-package.yaml",
		Log:          LogConfig{Level: "info"},
		Avro:         AvroConfig{Namespace: "com.example.sdf"},
	}
}

// Load reads path from the OS file system. See LoadFs.
func Load(path string) (Config, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs reads a YAML config over the defaults and then applies SDFC_*
// environment overrides. A missing file leaves the defaults in place.
func LoadFs(fs afero.Fs, path string) (Config, error) {
	cfg := Default()

	data, err := afero.ReadFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"OUTPUT":         &c.Output,
		"DATAFLOW_FILE":  &c.DataflowFile,
		"PACKAGE_FILE":   &c.PackageFile,
		"LOG_LEVEL":      &c.Log.Level,
		"AVRO_NAMESPACE": &c.Avro.Namespace,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"DEV":      &c.Dev,
		"LOG_JSON": &c.Log.JSON,
	}
	for key, dst := range bools {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = b
	}
	return nil
}

// Validate rejects empty file names and unknown log levels.
func (c Config) Validate() error {
	switch {
	case c.DataflowFile == "":
		return errors.New("dataflowFile cannot be empty")
	case c.PackageFile == "":
		return errors.New("packageFile cannot be empty")
	case c.Output == "":
		return errors.New("output cannot be empty")
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// Logger builds the root logger described by the log section.
func (c Config) Logger(name string, w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(c.Log.Level),
		Output:     w,
		JSONFormat: c.Log.JSON,
	})
}
