package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// outputFormat is how a command renders its result.
type outputFormat struct {
	json bool
	yaml bool
	jq   *gojq.Code
}

// structured reports whether the caller asked for machine-readable output.
func (f outputFormat) structured() bool {
	return f.json || f.yaml || f.jq != nil
}

// formatFromContext reads the global output flags.
func formatFromContext(c *cli.Context) (outputFormat, error) {
	f := outputFormat{json: c.Bool("json"), yaml: c.Bool("yaml")}
	if f.json && f.yaml {
		return f, fmt.Errorf("--json and --yaml are mutually exclusive")
	}
	if expr := c.String("jq"); expr != "" {
		code, err := compileJQ(expr)
		if err != nil {
			return f, err
		}
		f.jq = code
	}
	return f, nil
}

func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return code, nil
}

// write renders v in the structured format. Values are normalized through
// JSON first so YAML and jq see the same field names as the API.
func (f outputFormat) write(w io.Writer, v interface{}) error {
	generic, err := toGeneric(v)
	if err != nil {
		return err
	}

	if f.jq != nil {
		iter := f.jq.Run(generic)
		for {
			out, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := out.(error); isErr {
				return fmt.Errorf("jq: %w", err)
			}
			if err := writeValue(w, out, f.yaml); err != nil {
				return err
			}
		}
		return nil
	}
	return writeValue(w, generic, f.yaml)
}

func writeValue(w io.Writer, v interface{}, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toGeneric(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to normalize output: %w", err)
	}
	return normalizeNumbers(generic), nil
}

// normalizeNumbers keeps integers integral so lamports and slots are not
// rendered in exponent form.
func normalizeNumbers(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.Atoi(v.String()); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]interface{}:
		for k, e := range v {
			v[k] = normalizeNumbers(e)
		}
		return v
	case []interface{}:
		for i, e := range v {
			v[i] = normalizeNumbers(e)
		}
		return v
	default:
		return v
	}
}

// isTruthy follows jq truthiness: only null and false are false.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
