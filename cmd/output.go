// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"gopkg.in/yaml.v3"
)

// Formatter converts an arbitrary object into a []byte.
type Formatter func(value interface{}) ([]byte, error)

func formatYaml(value interface{}) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return yaml.Marshal(value)
}

func formatJson(value interface{}) ([]byte, error) {
	return json.MarshalIndent(value, "", "  ")
}

// DefaultFormatters are used by the commands that print results.
var DefaultFormatters = map[string]Formatter{
	"yaml": formatYaml,
	"json": formatJson,
}

// formatterValue implements gnuflag.Value for the --format flag.
type formatterValue struct {
	name       string
	formatters map[string]Formatter
}

func newFormatterValue(initial string, formatters map[string]Formatter) *formatterValue {
	v := &formatterValue{formatters: formatters}
	if err := v.Set(initial); err != nil {
		panic(err)
	}
	return v
}

// Set stores the chosen formatter name in v.name.
func (v *formatterValue) Set(value string) error {
	if v.formatters[value] == nil {
		return errors.NotValidf("format %q", value)
	}
	v.name = value
	return nil
}

// String returns the chosen formatter name.
func (v *formatterValue) String() string {
	return v.name
}

func (v *formatterValue) doc() string {
	choices := make([]string, 0, len(v.formatters))
	for name := range v.formatters {
		choices = append(choices, name)
	}
	sort.Strings(choices)
	return "specify output format (" + strings.Join(choices, "|") + ")"
}

// Output interprets output-related command line flags and writes a value
// to a file or to stdout as directed.
type Output struct {
	formatter *formatterValue
	outPath   string
}

// AddFlags injects the --format and --output flags into f.
func (c *Output) AddFlags(f *gnuflag.FlagSet, name string, formatters map[string]Formatter) {
	c.formatter = newFormatterValue(name, formatters)
	f.Var(c.formatter, "format", c.formatter.doc())
	f.StringVar(&c.outPath, "o", "", "specify an output file")
	f.StringVar(&c.outPath, "output", "", "")
}

// Write formats and outputs value.
func (c *Output) Write(ctx *Context, value interface{}) error {
	var target io.Writer = ctx.Stdout
	if c.outPath != "" {
		file, err := os.Create(ctx.AbsPath(c.outPath))
		if err != nil {
			return errors.Trace(err)
		}
		defer file.Close()
		target = file
	}
	data, err := c.formatter.formatters[c.formatter.name](value)
	if err != nil {
		return errors.Trace(err)
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := target.Write(data); err != nil {
		return errors.Trace(err)
	}
	if data[len(data)-1] != '\n' {
		_, err = target.Write([]byte{'\n'})
	}
	return errors.Trace(err)
}
