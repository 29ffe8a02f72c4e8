package aggregation

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrReportNotFound is returned when no report definition has the requested name.
var ErrReportNotFound = errors.New("report not found")

// ReportDefinition declares one report over one record kind.
// Definitions are loaded from YAML files and fingerprinted for change detection.
type ReportDefinition struct {
	Name       string
	Title      string
	SourceKind string
	Headline   string
	Metrics    []Metric // empty means every value name in the records
	// Distribution lists the metrics that split the headline; empty derives it.
	Distribution       []string
	DefaultGranularity Granularity
	// RecordSchema is the resolved path of an optional .proto payload schema.
	RecordSchema string
	Fingerprint  string // SHA-256 of the raw YAML file
}

// Dynamic reports whether the report aggregates whatever values records carry.
func (d ReportDefinition) Dynamic() bool { return len(d.Metrics) == 0 }

// Query builds the engine query for one request against this report.
func (d ReportDefinition) Query(start, end time.Time, g Granularity, groupKey string) Query {
	return Query{
		Granularity:  g,
		Start:        start,
		End:          end,
		GroupKey:     groupKey,
		Metrics:      d.Metrics,
		Headline:     d.Headline,
		Distribution: d.Distribution,
	}
}

// rawDefinition is the on-disk YAML shape.
type rawDefinition struct {
	Name               string   `yaml:"name"`
	Title              string   `yaml:"title"`
	SourceKind         string   `yaml:"source_kind"`
	Headline           string   `yaml:"headline"`
	Metrics            []Metric `yaml:"metrics"`
	Distribution       []string `yaml:"distribution"`
	DefaultGranularity string   `yaml:"default_granularity"`
	RecordSchema       string   `yaml:"record_schema"`
}

// DefinitionRepository defines the interface for loading report definitions.
type DefinitionRepository interface {
	// Get returns the definition with the given name, or ErrReportNotFound.
	Get(ctx context.Context, name string) (*ReportDefinition, error)

	// List returns all definitions sorted by name, optionally filtered by source kind.
	List(ctx context.Context, sourceKind string) ([]ReportDefinition, error)
}

// FileSystemDefinitionRepository loads report definitions from *.yaml files
// in a directory, one definition per file. Reload swaps in a new set only if
// the whole directory validates.
type FileSystemDefinitionRepository struct {
	dir string

	mu   sync.RWMutex
	defs map[string]ReportDefinition // keyed by Name
}

// NewFileSystemDefinitionRepository creates a repository and eagerly loads
// every definition in dir. A missing directory means zero reports.
func NewFileSystemDefinitionRepository(dir string) (*FileSystemDefinitionRepository, error) {
	defs, err := LoadDefinitions(dir)
	if err != nil {
		return nil, err
	}
	return &FileSystemDefinitionRepository{dir: dir, defs: defs}, nil
}

// NewStaticDefinitionRepository serves a fixed set of definitions.
func NewStaticDefinitionRepository(defs ...ReportDefinition) (*FileSystemDefinitionRepository, error) {
	set := make(map[string]ReportDefinition, len(defs))
	for _, d := range defs {
		if err := validateDefinition(&d); err != nil {
			return nil, err
		}
		if _, exists := set[d.Name]; exists {
			return nil, fmt.Errorf("report %q: duplicate report name", d.Name)
		}
		set[d.Name] = d
	}
	return &FileSystemDefinitionRepository{defs: set}, nil
}

// Dir returns the directory definitions are loaded from.
func (r *FileSystemDefinitionRepository) Dir() string { return r.dir }

// Len returns the number of loaded definitions.
func (r *FileSystemDefinitionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Reload re-reads the directory. On error the current set stays active.
func (r *FileSystemDefinitionRepository) Reload() error {
	if r.dir == "" {
		return nil
	}
	defs, err := LoadDefinitions(r.dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.defs = defs
	r.mu.Unlock()
	return nil
}

// Get returns the definition with the given name.
func (r *FileSystemDefinitionRepository) Get(_ context.Context, name string) (*ReportDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrReportNotFound, name)
	}
	return &def, nil
}

// List returns all definitions sorted by name, optionally filtered by source kind.
func (r *FileSystemDefinitionRepository) List(_ context.Context, sourceKind string) ([]ReportDefinition, error) {
	r.mu.RLock()
	out := make([]ReportDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		if sourceKind != "" && def.SourceKind != sourceKind {
			continue
		}
		out = append(out, def)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LoadDefinitions parses and validates every definition file in dir.
func LoadDefinitions(dir string) (map[string]ReportDefinition, error) {
	defs := make(map[string]ReportDefinition)

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return defs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report config dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("report config path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading report config dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading report file %s: %w", path, err)
		}

		var raw rawDefinition
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing report file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // empty / comment-only file
		}

		def := ReportDefinition{
			Name:         raw.Name,
			Title:        raw.Title,
			SourceKind:   raw.SourceKind,
			Headline:     raw.Headline,
			Metrics:      raw.Metrics,
			Distribution: raw.Distribution,
			Fingerprint:  fmt.Sprintf("%x", sha256.Sum256(data)),
		}
		if raw.DefaultGranularity != "" {
			g, err := ParseGranularity(raw.DefaultGranularity)
			if err != nil {
				return nil, fmt.Errorf("report %q: %w", raw.Name, err)
			}
			def.DefaultGranularity = g
		}
		if raw.RecordSchema != "" {
			def.RecordSchema = raw.RecordSchema
			if !filepath.IsAbs(def.RecordSchema) {
				def.RecordSchema = filepath.Join(dir, def.RecordSchema)
			}
		}

		if err := validateDefinition(&def); err != nil {
			return nil, err
		}
		if _, exists := defs[def.Name]; exists {
			return nil, fmt.Errorf("report %q: duplicate report name (check multiple YAML files)", def.Name)
		}
		defs[def.Name] = def
	}
	return defs, nil
}

func validateDefinition(def *ReportDefinition) error {
	if def.Name == "" {
		return errors.New("report name must not be empty")
	}
	if def.SourceKind == "" {
		return fmt.Errorf("report %q: source_kind must not be empty", def.Name)
	}
	if def.DefaultGranularity == "" {
		def.DefaultGranularity = GranularityDay
	}

	names := make(map[string]Metric, len(def.Metrics))
	for _, m := range def.Metrics {
		if m.Name == "" {
			return fmt.Errorf("report %q: metric name must not be empty", def.Name)
		}
		if !ValidOperator(m.EffectiveOperator()) {
			return fmt.Errorf("report %q: metric %q: unsupported operator %q", def.Name, m.Name, m.Operator)
		}
		if _, dup := names[m.Name]; dup {
			return fmt.Errorf("report %q: duplicate metric %q", def.Name, m.Name)
		}
		names[m.Name] = m
	}

	if len(def.Metrics) == 0 {
		return nil
	}
	if def.Headline != "" {
		m, ok := names[def.Headline]
		if !ok {
			return fmt.Errorf("report %q: headline %q is not a declared metric", def.Name, def.Headline)
		}
		if _, additive := MetricSelectorFor(m); !additive {
			return fmt.Errorf("report %q: %w (%q uses %s)", def.Name, ErrInvalidHeadline, m.Name, m.EffectiveOperator())
		}
	}
	for _, name := range def.Distribution {
		m, ok := names[name]
		if !ok {
			return fmt.Errorf("report %q: distribution metric %q is not declared", def.Name, name)
		}
		if m.EffectiveOperator() != OpSum {
			return fmt.Errorf("report %q: distribution metric %q must use sum", def.Name, name)
		}
	}
	return nil
}
