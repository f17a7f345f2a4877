package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

func scanDirectives(r io.Reader) ([]directive, error) {
	var out []directive
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value := line, ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			key, value = line[:i], line[i+1:]
		}
		out = append(out, directive{
			line:  n,
			key:   key,
			value: strings.TrimSpace(value),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type yamlConfig struct {
	Listen          []string `yaml:"listen"`
	ProcPath        *string  `yaml:"proc_path"`
	LogLevel        *string  `yaml:"log_level"`
	RefreshInterval *string  `yaml:"refresh_interval"`
	ClientTimeout   *string  `yaml:"client_timeout"`
	MetricsListen   *string  `yaml:"metrics_listen"`
	StateDB         *string  `yaml:"state_db"`
}

// ParseYAML reads the YAML format. Unknown keys make the file invalid.
func ParseYAML(r io.Reader) (*Config, error) {
	var yc yamlConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&yc); err != nil && err != io.EOF {
		return Default(), fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var ds []directive
	for _, l := range yc.Listen {
		ds = append(ds, directive{key: "listen", value: l})
	}
	for _, kv := range []struct {
		key string
		val *string
	}{
		{"proc_path", yc.ProcPath},
		{"log_level", yc.LogLevel},
		{"refresh_interval", yc.RefreshInterval},
		{"client_timeout", yc.ClientTimeout},
		{"metrics_listen", yc.MetricsListen},
		{"state_db", yc.StateDB},
	} {
		if kv.val != nil {
			ds = append(ds, directive{key: kv.key, value: strings.TrimSpace(*kv.val)})
		}
	}
	return build(ds)
}
