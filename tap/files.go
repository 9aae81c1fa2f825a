package tap

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
)

//go:embed defaults.yaml
var embeddedDefaults embed.FS

// ConfigFile is one layer of configuration. Either Reader holds a YAML or
// JSON document of Length bytes, or Values holds already decoded keys.
type ConfigFile struct {
	Name   string
	Reader io.Reader
	Length int
	Values map[string]any
}

type EmbeddedFS interface {
	Open(name string) (fs.File, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	ReadFile(name string) ([]byte, error)
}

type EmbeddedConfig struct {
	Root  string
	Files EmbeddedFS
}

// DefaultConfigFiles holds the built in defaults every config is layered on.
var DefaultConfigFiles = EmbeddedConfig{Files: embeddedDefaults}

func (ec EmbeddedConfig) MustFindRootConfigFile(filename string) (ConfigFile, error) {
	var result ConfigFile
	name := path.Join(ec.Root, filename)
	b, err := ec.Files.ReadFile(name)
	if err == nil {
		result = configFileFromBytes(name, b)
	}
	return result, err
}

func (ec EmbeddedConfig) MustFindDefaultsConfigFile() (ConfigFile, error) {
	return ec.MustFindRootConfigFile("defaults.yaml")
}

// ReadConfigFile reads a Singer config.json or an equivalent YAML file.
func ReadConfigFile(name string) (ConfigFile, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return ConfigFile{}, fmt.Errorf("failed to read config file %s %w", name, err)
	}
	return configFileFromBytes(name, b), nil
}

func configFileFromBytes(name string, b []byte) ConfigFile {
	return ConfigFile{
		Name:   name,
		Reader: bytes.NewReader(b),
		Length: len(b),
	}
}
