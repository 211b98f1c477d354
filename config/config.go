// Package config loads and validates run configuration for the tablemap
// CLI from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	tablemap "github.com/vogtb/go-tablemap"
)

// DefaultOutputSheet is used when the configuration names no output sheet
const DefaultOutputSheet = "Output"

// Rule is one inline mapping rule in the configuration file
type Rule struct {
	Header      string `yaml:"header"`
	Instruction string `yaml:"instruction"`
}

// RunConfig describes one pipeline run: where the data lives, which
// sheets to read, and where the output goes. The mapping comes either
// from a two-column sheet in the workbook or inline from the config
// file, never both.
type RunConfig struct {
	// Workbook is the path of the .xlsx file to read.
	Workbook string `yaml:"workbook"`

	// SourceSheet names the sheet holding the input table.
	SourceSheet string `yaml:"source_sheet"`

	// MappingSheet names the two-column (header, instruction) sheet.
	MappingSheet string `yaml:"mapping_sheet"`

	// Rules is the inline alternative to MappingSheet.
	Rules []Rule `yaml:"rules"`

	// OutputSheet names the sheet the output table is written to.
	// Defaults to "Output".
	OutputSheet string `yaml:"output_sheet"`

	// Output is the path the transformed workbook is saved to. Defaults
	// to the input workbook path.
	Output string `yaml:"output"`
}

// Load reads and validates a configuration file
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tablemap.NewConfigError("read config %q: %v", path, err)
	}
	cfg := &RunConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, tablemap.NewConfigError("parse config %q: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills in defaults
func (c *RunConfig) Validate() error {
	if c.Workbook == "" {
		return tablemap.NewConfigError("workbook path is required")
	}
	if c.SourceSheet == "" {
		return tablemap.NewConfigError("source_sheet is required")
	}
	if c.MappingSheet == "" && len(c.Rules) == 0 {
		return tablemap.NewConfigError("either mapping_sheet or inline rules are required")
	}
	if c.MappingSheet != "" && len(c.Rules) > 0 {
		return tablemap.NewConfigError("mapping_sheet and inline rules are mutually exclusive")
	}
	if c.OutputSheet == "" {
		c.OutputSheet = DefaultOutputSheet
	}
	if c.OutputSheet == c.SourceSheet {
		return tablemap.NewConfigError("output_sheet %q must differ from source_sheet", c.OutputSheet)
	}
	if c.MappingSheet != "" && c.MappingSheet == c.SourceSheet {
		return tablemap.NewConfigError("mapping_sheet %q must differ from source_sheet", c.MappingSheet)
	}
	if c.Output == "" {
		c.Output = c.Workbook
	}
	return nil
}

// MappingRules returns the inline rules as pipeline mapping rules
func (c *RunConfig) MappingRules() []tablemap.MappingRule {
	rules := make([]tablemap.MappingRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rules = append(rules, tablemap.MappingRule{Header: r.Header, Instruction: r.Instruction})
	}
	return rules
}

// String renders the effective configuration for logging
func (c *RunConfig) String() string {
	mapping := c.MappingSheet
	if mapping == "" {
		mapping = fmt.Sprintf("%d inline rules", len(c.Rules))
	}
	return fmt.Sprintf("workbook=%s source=%s mapping=%s output=%s!%s",
		c.Workbook, c.SourceSheet, mapping, c.Output, c.OutputSheet)
}
