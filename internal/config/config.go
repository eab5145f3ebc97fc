// Package config provides YAML configuration loading for perf2pprof,
// following the load-then-default-then-validate shape used by
// bobbydeveaux-starbucks-mugs's internal/config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config mirrors the normalizer/converter options a perf2pprof.yaml
// file may set. perf2pprof combines these with its CLI flags: a
// boolean pass is on if either the flag or the file enables it, and
// grouping by pid stays on only if neither turns it off.
type Config struct {
	// GroupByPIDs defaults to true, per §4.4's default grouping behavior.
	GroupByPIDs *bool `yaml:"group_by_pids"`

	DeduceHugePages       bool `yaml:"deduce_hugepages"`
	CombineMappings       bool `yaml:"combine_mappings"`
	AddDataAddressFrames  bool `yaml:"add_data_address_frames"`
	SortEventsByTime      bool `yaml:"sort_events_by_time"`

	// LabelFields names which SampleKey fields to enable; an empty
	// list means "every field" (converter.DefaultLabelFields).
	LabelFields []string `yaml:"label_fields"`
}

// validLabelFields is the set of accepted label_fields entries.
var validLabelFields = map[string]bool{
	"pid": true, "tid": true, "timestamp_ns": true, "exec_mode": true,
	"comm": true, "thread_type": true, "thread_comm": true, "cgroup": true,
	"code_page_size": true, "data_page_size": true, "cpu": true, "weight": true,
	"data_src": true, "snoop_status": true,
}

// Load reads the YAML file at path and applies defaults. A missing
// file is not an error: Default() is returned instead, matching
// perf2pprof's "absent a config file, built-in defaults apply" rule.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration: grouping by pid
// enabled, every other pass disabled, every label field enabled.
func Default() *Config {
	t := true
	return &Config{GroupByPIDs: &t}
}

// GroupByPIDsOrDefault returns the effective group_by_pids value,
// treating an absent key (nil, e.g. after a partial YAML document) as true.
func (c *Config) GroupByPIDsOrDefault() bool {
	if c.GroupByPIDs == nil {
		return true
	}
	return *c.GroupByPIDs
}

func validate(cfg *Config) error {
	for _, f := range cfg.LabelFields {
		if !validLabelFields[f] {
			return fmt.Errorf("label_fields: %q is not a recognized SampleKey field", f)
		}
	}
	return nil
}
