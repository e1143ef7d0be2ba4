package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"slice2series/core/models"

	"gopkg.in/yaml.v3"
)

// SpecFile represents a YAML specifier document. A document either holds a
// single specifier at the top level or a list under "specs".
type SpecFile struct {
	SpecBody `yaml:",inline"`
	Specs    []SpecBody `yaml:"specs,omitempty"`
}

// SpecBody represents one specifier
type SpecBody struct {
	Version   int            `yaml:"version"`
	Name      string         `yaml:"name"`
	Input     SpecInput      `yaml:"input"`
	Output    SpecOutput     `yaml:"output"`
	Variables SpecVariables  `yaml:"variables"`
	Chunks    map[string]int `yaml:"chunks,omitempty"`
	Partition string         `yaml:"partition,omitempty"` // round-robin | weighted
}

// SpecInput represents the input section
type SpecInput struct {
	Files []string `yaml:"files"`
	Sort  bool     `yaml:"sort"`
}

// SpecOutput represents the output section
type SpecOutput struct {
	Directory   string `yaml:"directory"`
	Prefix      string `yaml:"prefix"`
	Suffix      string `yaml:"suffix"`
	OnceFile    string `yaml:"once_file"`
	Compression int    `yaml:"compression"`
}

// SpecVariables represents the variables section
type SpecVariables struct {
	Series   []string `yaml:"series"`
	Metadata []string `yaml:"metadata"`
}

// Parse parses a YAML document holding exactly one specifier
func Parse(data []byte) (*models.Specifier, error) {
	specs, err := ParseAll(data)
	if err != nil {
		return nil, err
	}
	if len(specs) != 1 {
		return nil, models.Configf("expected one specifier, found %d", len(specs))
	}
	return specs[0], nil
}

// ParseAll parses a YAML document holding one or more specifiers. Unknown
// keys are rejected.
func ParseAll(data []byte) ([]*models.Specifier, error) {
	var file SpecFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, models.Configf("empty specifier document")
		}
		return nil, models.Configf("failed to parse YAML: %v", err)
	}

	bodies := file.Specs
	if len(bodies) == 0 {
		bodies = []SpecBody{file.SpecBody}
	} else if !file.SpecBody.isZero() {
		return nil, models.Configf("a document may hold top-level fields or a specs list, not both")
	}

	out := make([]*models.Specifier, 0, len(bodies))
	for i, body := range bodies {
		s, err := body.toSpecifier()
		if err != nil {
			return nil, fmt.Errorf("specifier %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseFile reads and parses a specifier file. Relative input and output
// paths are resolved against the file's directory.
func ParseFile(path string) ([]*models.Specifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.Configf("failed to read specifier: %v", err)
	}
	specs, err := ParseAll(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	for _, s := range specs {
		for i, f := range s.InputFiles {
			s.InputFiles[i] = resolve(base, f)
		}
		if s.OutputDirectory != "" {
			s.OutputDirectory = resolve(base, s.OutputDirectory)
		}
	}
	return specs, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (b SpecBody) isZero() bool {
	return b.Version == 0 && b.Name == "" && len(b.Input.Files) == 0 &&
		b.Output == (SpecOutput{}) && len(b.Variables.Series) == 0 &&
		len(b.Variables.Metadata) == 0 && len(b.Chunks) == 0 && b.Partition == ""
}

func (b SpecBody) toSpecifier() (*models.Specifier, error) {
	if b.Version == 0 {
		return nil, models.Configf("missing version")
	}

	s := &models.Specifier{
		Version:         b.Version,
		Name:            b.Name,
		InputFiles:      b.Input.Files,
		SortFiles:       b.Input.Sort,
		OutputDirectory: b.Output.Directory,
		OutputPrefix:    b.Output.Prefix,
		OutputSuffix:    b.Output.Suffix,
		OnceFileName:    b.Output.OnceFile,
		Compression:     b.Output.Compression,
		SeriesVariables: b.Variables.Series,
		Metadata:        b.Variables.Metadata,
		Partition:       models.PartitionStrategy(b.Partition),
	}
	if len(b.Chunks) > 0 {
		s.Chunks = models.ChunkPolicy(b.Chunks)
	}

	s = s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
