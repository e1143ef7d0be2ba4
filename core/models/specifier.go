package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SpecifierVersion is the only specifier version this build understands.
const SpecifierVersion = 1

// Defaults applied by Specifier.Normalize.
const (
	DefaultPrefix       = "tseries."
	DatasetExtension    = ".db"
	DefaultOnceFileName = "once"
)

// PartitionStrategy selects how series tasks are spread over workers.
type PartitionStrategy string

const (
	PartitionRoundRobin PartitionStrategy = "round-robin"
	PartitionWeighted   PartitionStrategy = "weighted"
)

// Specifier is the complete, immutable description of one conversion job
type Specifier struct {
	Version         int
	Name            string
	InputFiles      []string
	SortFiles       bool
	OutputDirectory string
	OutputPrefix    string
	OutputSuffix    string
	OnceFileName    string
	Compression     int
	SeriesVariables []string // empty means every time-variant variable not listed in Metadata
	Metadata        []string // time-variant variables copied into every output
	Chunks          ChunkPolicy
	Partition       PartitionStrategy
}

// Normalize returns a copy with defaults filled in. The suffix always ends in
// the dataset extension.
func (s *Specifier) Normalize() *Specifier {
	out := *s
	out.InputFiles = append([]string(nil), s.InputFiles...)
	out.SeriesVariables = append([]string(nil), s.SeriesVariables...)
	out.Metadata = append([]string(nil), s.Metadata...)
	out.Chunks = s.Chunks.Clone()

	if out.Version == 0 {
		out.Version = SpecifierVersion
	}
	if out.OutputPrefix == "" {
		out.OutputPrefix = DefaultPrefix
	}
	if !strings.HasSuffix(out.OutputSuffix, DatasetExtension) {
		out.OutputSuffix += DatasetExtension
	}
	if out.OnceFileName == "" {
		out.OnceFileName = DefaultOnceFileName
	}
	if out.Partition == "" {
		out.Partition = PartitionRoundRobin
	}
	return &out
}

// Validate checks the specifier without touching the filesystem.
func (s *Specifier) Validate() error {
	if s.Version != SpecifierVersion {
		return Configf("unsupported specifier version %d", s.Version)
	}
	if len(s.InputFiles) == 0 {
		return Configf("no input files")
	}
	seen := make(map[string]bool, len(s.InputFiles))
	for _, f := range s.InputFiles {
		if f == "" {
			return Configf("empty input file name")
		}
		if seen[f] {
			return Configf("input file %s listed twice", f)
		}
		seen[f] = true
	}
	if s.OutputDirectory != "" && strings.ContainsRune(s.OutputPrefix, filepath.Separator) {
		return Configf("output prefix %q may not contain a path separator when an output directory is set", s.OutputPrefix)
	}
	if strings.ContainsRune(s.OnceFileName, filepath.Separator) {
		return Configf("once file name %q may not contain a path separator", s.OnceFileName)
	}
	if s.Compression < 0 || s.Compression > 9 {
		return Configf("compression level %d out of range 0-9", s.Compression)
	}
	if err := s.Chunks.Validate(); err != nil {
		return err
	}

	meta := make(map[string]bool, len(s.Metadata))
	for _, m := range s.Metadata {
		if m == "" {
			return Configf("empty metadata variable name")
		}
		meta[m] = true
	}
	series := make(map[string]bool, len(s.SeriesVariables))
	for _, v := range s.SeriesVariables {
		switch {
		case v == "":
			return Configf("empty series variable name")
		case meta[v]:
			return Configf("variable %q is listed as both series and metadata", v)
		case series[v]:
			return Configf("series variable %q listed twice", v)
		}
		series[v] = true
	}

	switch s.Partition {
	case PartitionRoundRobin, PartitionWeighted:
	default:
		return Configf("unknown partition strategy %q", s.Partition)
	}
	return nil
}

// CheckPaths verifies that every input is a regular file and that the
// output directory exists.
func (s *Specifier) CheckPaths() error {
	for _, f := range s.InputFiles {
		info, err := os.Stat(f)
		if errors.Is(err, fs.ErrNotExist) {
			return Configf("input file %s not found", f)
		}
		if err != nil {
			return Configf("input file %s: %v", f, err)
		}
		if !info.Mode().IsRegular() {
			return Configf("input file %s is not a regular file", f)
		}
	}
	if s.OutputDirectory != "" {
		info, err := os.Stat(s.OutputDirectory)
		if err != nil {
			return Configf("output directory %s: %v", s.OutputDirectory, err)
		}
		if !info.IsDir() {
			return Configf("output directory %s is not a directory", s.OutputDirectory)
		}
	}
	return nil
}

// OutputPath returns the output file for a series variable (or the once file).
func (s *Specifier) OutputPath(variable string) string {
	name := s.OutputPrefix + variable + s.OutputSuffix
	if s.OutputDirectory == "" {
		return name
	}
	return filepath.Join(s.OutputDirectory, name)
}

// ChunkPolicy maps dimension names to chunk extents. Dimensions absent from
// the policy are stored whole.
type ChunkPolicy map[string]int

// Clone returns a copy of the policy.
func (p ChunkPolicy) Clone() ChunkPolicy {
	if p == nil {
		return nil
	}
	out := make(ChunkPolicy, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Validate rejects empty dimension names and non-positive sizes.
func (p ChunkPolicy) Validate() error {
	for dim, n := range p {
		if dim == "" {
			return Configf("chunk size given for an empty dimension name")
		}
		if n <= 0 {
			return Configf("chunk size for dimension %q must be positive, got %d", dim, n)
		}
	}
	return nil
}

// Size returns the chunk extent for dim, given the dimension's current extent.
// Sizes larger than a fixed extent are clamped; unlimited dimensions keep the
// requested size since they grow.
func (p ChunkPolicy) Size(dim string, extent int, unlimited bool) int {
	n, ok := p[dim]
	switch {
	case !ok:
		return max(extent, 1)
	case unlimited:
		return n
	default:
		return min(n, max(extent, 1))
	}
}

// ResolveChunks layers a per-run override on top of a base policy.
func ResolveChunks(override, base ChunkPolicy) ChunkPolicy {
	out := base.Clone()
	if out == nil && len(override) > 0 {
		out = make(ChunkPolicy, len(override))
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// ParseChunk parses a "dim=size" flag value.
func ParseChunk(s string) (string, int, error) {
	dim, size, ok := strings.Cut(s, "=")
	if !ok || dim == "" {
		return "", 0, Configf("chunk %q must look like dim=size", s)
	}
	var n int
	if _, err := fmt.Sscanf(size, "%d", &n); err != nil || n <= 0 {
		return "", 0, Configf("chunk %q: size must be a positive integer", s)
	}
	return dim, n, nil
}
