// Package source loads event definitions from files on disk.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"timelinecal/internal/ics"
	appLog "timelinecal/internal/log"
	"timelinecal/internal/model"
)

// ErrUnsupportedFormat is returned for files whose extension is not
// .yaml, .yml, .json or .ics.
var ErrUnsupportedFormat = errors.New("unsupported source format")

// File names one file of event definitions.
type File struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
}

// document is the mapping form of an event file. A bare sequence of
// definitions is accepted as well.
type document struct {
	Events []model.EventDefinition `yaml:"events"`
}

// Load reads the definitions in f. JSON files are read with the YAML
// decoder, which accepts them as-is.
func Load(f File) ([]model.EventDefinition, error) {
	body, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", f.ID, err)
	}

	switch ext := strings.ToLower(filepath.Ext(f.Path)); ext {
	case ".ics", ".ical":
		return ics.ParseICS(f.ID, body)
	case ".yaml", ".yml", ".json":
		defs, err := decode(body)
		if err != nil {
			return nil, fmt.Errorf("decode source %s: %w", f.ID, err)
		}
		return defs, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func decode(body []byte) ([]model.EventDefinition, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(body, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, nil
	}

	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		var defs []model.EventDefinition
		if err := node.Decode(&defs); err != nil {
			return nil, err
		}
		return defs, nil
	case yaml.MappingNode:
		var doc document
		if err := node.Decode(&doc); err != nil {
			return nil, err
		}
		return doc.Events, nil
	default:
		return nil, fmt.Errorf("line %d: expected a list of events or an events mapping", node.Line)
	}
}

// LoadAll loads every file in order and concatenates the results. A file
// that fails to load is skipped and its error returned alongside the rest.
func LoadAll(files []File) ([]model.EventDefinition, error) {
	var (
		all  []model.EventDefinition
		errs []error
	)
	for _, f := range files {
		defs, err := Load(f)
		if err != nil {
			appLog.Error("source load failed", err, "source", f.ID, "path", f.Path)
			errs = append(errs, err)
			continue
		}
		appLog.Debug("source loaded", "source", f.ID, "events", len(defs))
		all = append(all, defs...)
	}
	return all, errors.Join(errs...)
}
