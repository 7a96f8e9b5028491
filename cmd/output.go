package main

import (
	"encoding/json"
	"io"
	"reflect"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// writeOutput renders v as json, yaml or csv. CSV accepts only slices of
// structs; an empty slice writes nothing.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "output: json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "output: yaml")
		}
		return eris.Wrap(enc.Close(), "output: yaml")
	case "csv":
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice {
			return eris.Errorf("output: csv needs a list, got %T", v)
		}
		if rv.Len() == 0 {
			return nil
		}
		b, err := csvutil.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "output: csv")
		}
		_, err = w.Write(b)
		return eris.Wrap(err, "output: csv")
	default:
		return eris.Errorf("output: unknown format %q", format)
	}
}
