package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the serialization of a timeline document.
type Format int

const (
	// FormatJSON is a JSON document.
	FormatJSON Format = iota
	// FormatYAML is a YAML document.
	FormatYAML
)

// Extensions lists the file patterns recognised as timeline documents.
var Extensions = []string{"*.timeline.json", "*.timeline.yaml", "*.timeline.yml"}

// FormatFromPath guesses the document format from a file name.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// envelope is the response shape of the editorial API, which wraps the
// timeline in a data field. Documents exported by hand usually are not
// wrapped. Both are normalised here so nothing downstream has to care.
type envelope struct {
	Data *Timeline `json:"data" yaml:"data"`
}

// Decode reads a timeline document in the given format, unwrapping an
// optional {"data": ...} envelope, and validates it.
func Decode(r io.Reader, format Format) (*Timeline, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read timeline: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ValidationError{Problems: []string{"document is empty"}}
	}

	unmarshal := json.Unmarshal
	if format == FormatYAML {
		unmarshal = yaml.Unmarshal
	}

	var env envelope
	if err := unmarshal(raw, &env); err == nil && env.Data != nil {
		if err := env.Data.Validate(); err != nil {
			return nil, err
		}
		return env.Data, nil
	}

	var t Timeline
	if err := unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("unable to parse timeline: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Load opens and decodes a timeline file. Documents without an id take the
// file's base name, so conclusion tracks still get a stable identifier.
func Load(path string) (*Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open timeline: %w", err)
	}
	defer f.Close() //nolint:errcheck

	t, err := Decode(f, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if t.ID == "" {
		t.ID = baseID(path)
	}
	return t, nil
}

func baseID(path string) string {
	name := filepath.Base(path)
	for _, suffix := range []string{".timeline.json", ".timeline.yaml", ".timeline.yml", ".json", ".yaml", ".yml"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}
