// Package registry loads the list of MCP tool servers the hub should launch.
//
// The registry is a YAML document with a top-level "servers" list. Each entry
// names a server, the command that starts it, and optional arguments, working
// directory and extra environment. Loading is pure: the returned descriptors
// are never mutated, and a reload simply produces a new slice.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Separator joins a server name and a tool name into a qualified tool name.
// Server names may not contain it.
const Separator = "."

// ServerDescriptor describes how to launch one MCP tool server.
type ServerDescriptor struct {
	Name    string            `yaml:"name" json:"name"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

type document struct {
	Servers []ServerDescriptor `yaml:"servers"`
}

// ConfigError reports an invalid registry entry.
type ConfigError struct {
	Index  int
	Name   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Index < 0 {
		return "registry: " + e.Reason
	}
	if e.Name == "" {
		return fmt.Sprintf("registry: server #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("registry: server #%d (%q): %s", e.Index, e.Name, e.Reason)
}

// ErrNoServers is returned by Load when the document declares no servers.
var ErrNoServers = errors.New("registry: no servers configured")

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

// LoadFile reads and validates the registry at path.
func LoadFile(path string) ([]ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Load reads and validates a registry document from r.
func Load(r io.Reader) ([]ServerDescriptor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("registry: reading: %w", err)
	}
	return Parse(data)
}

// Parse validates a registry document held in memory. ${VAR} references are
// expanded from the environment before the YAML is decoded.
func Parse(data []byte) ([]ServerDescriptor, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNoServers
	}
	var doc document
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &doc); err != nil {
		return nil, &ConfigError{Index: -1, Reason: fmt.Sprintf("parsing: %v", err)}
	}
	if len(doc.Servers) == 0 {
		return nil, ErrNoServers
	}
	if err := Validate(doc.Servers); err != nil {
		return nil, err
	}
	out := make([]ServerDescriptor, len(doc.Servers))
	for i, d := range doc.Servers {
		out[i] = d.clone()
	}
	return out, nil
}

// Validate checks descriptors for missing fields and duplicate or
// unqualifiable names. The first offending entry is reported.
func Validate(descs []ServerDescriptor) error {
	seen := make(map[string]int, len(descs))
	for i, d := range descs {
		name := strings.TrimSpace(d.Name)
		switch {
		case name == "":
			return &ConfigError{Index: i, Reason: "missing name"}
		case name != d.Name:
			return &ConfigError{Index: i, Name: d.Name, Reason: "name has surrounding whitespace"}
		case strings.Contains(name, Separator):
			return &ConfigError{Index: i, Name: name, Reason: fmt.Sprintf("name must not contain %q", Separator)}
		case strings.TrimSpace(d.Command) == "":
			return &ConfigError{Index: i, Name: name, Reason: "missing command"}
		}
		if first, dup := seen[name]; dup {
			return &ConfigError{Index: i, Name: name, Reason: fmt.Sprintf("duplicate name (first declared at #%d)", first)}
		}
		seen[name] = i
	}
	return nil
}

func (d ServerDescriptor) clone() ServerDescriptor {
	out := d
	if d.Args != nil {
		out.Args = append([]string(nil), d.Args...)
	}
	if d.Env != nil {
		out.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			out.Env[k] = v
		}
	}
	return out
}
