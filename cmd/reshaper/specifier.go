package main

import (
	"fmt"

	"slice2series/core/models"
	"slice2series/core/spec"

	"github.com/spf13/cobra"
)

// specFlags describe a job either through a specifier file or directly on
// the command line.
type specFlags struct {
	specPath    string
	name        string
	files       []string
	outputDir   string
	prefix      string
	suffix      string
	onceName    string
	series      []string
	metadata    []string
	sort        bool
	compression int
	partition   string
	once        bool
	preprocess  bool
}

func (f *specFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.specPath, "spec", "s", "", "YAML specifier file (may hold a specs list)")
	fl.StringVar(&f.name, "name", "", "Job name shown in reports")
	fl.StringSliceVarP(&f.files, "files", "f", nil, "Input slice files, in time order (also taken from arguments)")
	fl.StringVarP(&f.outputDir, "odir", "o", "", "Output directory")
	fl.StringVar(&f.prefix, "prefix", models.DefaultPrefix, "Output file name prefix")
	fl.StringVar(&f.suffix, "suffix", models.DatasetExtension, "Output file name suffix")
	fl.StringVar(&f.onceName, "once-name", models.DefaultOnceFileName, "Variable part of the once file name")
	fl.StringSliceVar(&f.series, "series", nil, "Time-series variables to write (default: all)")
	fl.StringSliceVarP(&f.metadata, "metadata", "m", nil, "Time-variant metadata copied into every output")
	fl.BoolVar(&f.sort, "sort", false, "Order inputs by their first time value")
	fl.IntVarP(&f.compression, "compression", "z", 0, "Output compression level 0-9")
	fl.StringVar(&f.partition, "partition", string(models.PartitionRoundRobin), "Work partition: round-robin or weighted")
	fl.BoolVar(&f.once, "once", false, "Write metadata to a single once file instead of every output")
	fl.BoolVar(&f.preprocess, "preprocess", false, "Check every input for the time coordinate and warn about missing variables")
}

// specifiers returns the jobs described by the flags and positional args.
func (f *specFlags) specifiers(args []string) ([]*models.Specifier, error) {
	files := append(append([]string(nil), f.files...), args...)
	if f.specPath != "" {
		if len(files) > 0 {
			return nil, models.Configf("input files cannot be given together with --spec")
		}
		return spec.ParseFile(f.specPath)
	}
	if len(files) == 0 {
		return nil, models.Configf("no input files; pass them as arguments, with --files or through --spec")
	}

	s := &models.Specifier{
		Version:         models.SpecifierVersion,
		Name:            f.name,
		InputFiles:      files,
		SortFiles:       f.sort,
		OutputDirectory: f.outputDir,
		OutputPrefix:    f.prefix,
		OutputSuffix:    f.suffix,
		OnceFileName:    f.onceName,
		Compression:     f.compression,
		SeriesVariables: f.series,
		Metadata:        f.metadata,
		Partition:       models.PartitionStrategy(f.partition),
	}
	return []*models.Specifier{s}, nil
}

func parseChunks(values []string) (map[string]int, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]int, len(values))
	for _, v := range values {
		dim, size, err := models.ParseChunk(v)
		if err != nil {
			return nil, err
		}
		if _, dup := out[dim]; dup {
			return nil, models.Configf("chunk size for %q given twice", dim)
		}
		out[dim] = size
	}
	return out, nil
}

func specLabel(s *models.Specifier, i int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("specifier %d", i)
}
