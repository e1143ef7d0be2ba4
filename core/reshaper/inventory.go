package reshaper

import (
	"fmt"
	"sort"

	"slice2series/core/models"
	"slice2series/storage"
)

// SeriesInfo is one time-series target with its total output size.
type SeriesInfo struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// Inventory is the result of analyzing the input slices. The manager
// computes it and every other rank receives a copy.
type Inventory struct {
	InputFiles    []string     `json:"input_files"`
	Steps         []int        `json:"steps"`
	Unlimited     string       `json:"unlimited"`
	TimeInvariant []string     `json:"time_invariant"`
	TimeVariant   []string     `json:"time_variant"`
	Series        []SeriesInfo `json:"series"`
	Warnings      []string     `json:"warnings,omitempty"`
}

// Reference is the input the metadata and layout come from.
func (inv *Inventory) Reference() string {
	return inv.InputFiles[0]
}

// TotalSteps returns the number of records across all inputs.
func (inv *Inventory) TotalSteps() int {
	n := 0
	for _, s := range inv.Steps {
		n += s
	}
	return n
}

// OnceSet returns the metadata shared by every output.
func (inv *Inventory) OnceSet() models.OnceSet {
	return models.OnceSet{
		Reference:     inv.Reference(),
		Unlimited:     inv.Unlimited,
		TimeInvariant: inv.TimeInvariant,
		TimeVariant:   inv.TimeVariant,
	}
}

type sliceInfo struct {
	path        string
	steps       int
	first, last float64
	hasCoord    bool
}

type analyzer struct {
	opener     storage.Opener
	spec       *models.Specifier
	preprocess bool
	once       bool
}

// analyze opens every input and classifies the reference file's variables.
// Every problem it finds is a configuration error.
func (a *analyzer) analyze() (*Inventory, error) {
	slices := make([]sliceInfo, 0, len(a.spec.InputFiles))
	unlimited := ""
	for _, path := range a.spec.InputFiles {
		info, name, err := a.inspectSlice(path)
		if err != nil {
			return nil, err
		}
		if unlimited == "" {
			unlimited = name
		} else if name != unlimited {
			return nil, models.Configf("input file %s has unlimited dimension %q, expected %q", path, name, unlimited)
		}
		slices = append(slices, info)
	}

	if a.spec.SortFiles {
		if err := sortSlices(slices, unlimited); err != nil {
			return nil, err
		}
	}

	inv := &Inventory{Unlimited: unlimited}
	for _, s := range slices {
		inv.InputFiles = append(inv.InputFiles, s.path)
		inv.Steps = append(inv.Steps, s.steps)
	}

	ref, err := a.opener.Open(inv.Reference())
	if err != nil {
		return nil, models.Configf("input file %s: %v", inv.Reference(), err)
	}
	defer ref.Close()

	candidates, err := a.classify(ref, inv)
	if err != nil {
		return nil, err
	}
	series, err := a.selectSeries(candidates)
	if err != nil {
		return nil, err
	}
	if err := a.checkConsistency(ref, inv, series); err != nil {
		return nil, err
	}

	total := inv.TotalSteps()
	for _, name := range series {
		v, err := ref.Variable(name)
		if err != nil {
			return nil, models.Configf("%v", err)
		}
		bytes := int64(v.DType.Size()) * int64(total)
		for i, n := range v.Shape {
			if v.Dimensions[i] != unlimited {
				bytes *= int64(n)
			}
		}
		inv.Series = append(inv.Series, SeriesInfo{Name: name, Bytes: bytes})
	}
	return inv, nil
}

func (a *analyzer) inspectSlice(path string) (sliceInfo, string, error) {
	r, err := a.opener.Open(path)
	if err != nil {
		return sliceInfo{}, "", models.Configf("input file %s: %v", path, err)
	}
	defer r.Close()

	dim, ok := r.Unlimited()
	if !ok {
		return sliceInfo{}, "", models.Configf("input file %s has no unlimited dimension", path)
	}
	info := sliceInfo{path: path, steps: dim.Length}

	coord, err := r.Variable(dim.Name)
	if err != nil {
		if a.preprocess || a.spec.SortFiles {
			return sliceInfo{}, "", models.Configf("input file %s has no coordinate variable %q", path, dim.Name)
		}
		return info, dim.Name, nil
	}
	if len(coord.Dimensions) != 1 || !coord.DType.Numeric() {
		return sliceInfo{}, "", models.Configf("input file %s: coordinate %q must be a numeric vector", path, dim.Name)
	}
	if dim.Length > 0 {
		vals, err := storage.ReadAll(r, dim.Name)
		if err != nil {
			return sliceInfo{}, "", models.Configf("input file %s: %v", path, err)
		}
		f, err := vals.AsFloat64s()
		if err != nil {
			return sliceInfo{}, "", models.Configf("input file %s: %v", path, err)
		}
		info.first, info.last, info.hasCoord = f[0], f[len(f)-1], true
	}
	return info, dim.Name, nil
}

// sortSlices orders inputs by their first coordinate value and rejects
// overlapping ranges.
func sortSlices(slices []sliceInfo, unlimited string) error {
	for _, s := range slices {
		if !s.hasCoord {
			return models.Configf("cannot sort: input file %s has no %q values", s.path, unlimited)
		}
	}
	sort.SliceStable(slices, func(i, j int) bool { return slices[i].first < slices[j].first })
	for i := 1; i < len(slices); i++ {
		prev, cur := slices[i-1], slices[i]
		if cur.first <= prev.last {
			return models.Configf("input files %s and %s overlap in %q (%g <= %g)", prev.path, cur.path, unlimited, cur.first, prev.last)
		}
	}
	return nil
}

// classify splits the reference variables into time-invariant metadata,
// time-variant metadata and series candidates.
func (a *analyzer) classify(ref storage.Reader, inv *Inventory) ([]string, error) {
	meta := make(map[string]bool, len(a.spec.Metadata))
	for _, m := range a.spec.Metadata {
		meta[m] = true
	}

	var candidates []string
	for _, name := range ref.Variables() {
		v, err := ref.Variable(name)
		if err != nil {
			return nil, models.Configf("%v", err)
		}
		switch {
		case v.DimIndex(inv.Unlimited) < 0:
			inv.TimeInvariant = append(inv.TimeInvariant, name)
		case meta[name] || name == inv.Unlimited:
			inv.TimeVariant = append(inv.TimeVariant, name)
		default:
			candidates = append(candidates, name)
		}
	}

	for _, m := range a.spec.Metadata {
		if _, err := ref.Variable(m); err != nil {
			return nil, models.Configf("metadata variable %q not found in %s", m, inv.Reference())
		}
	}
	return candidates, nil
}

func (a *analyzer) selectSeries(candidates []string) ([]string, error) {
	series := candidates
	if len(a.spec.SeriesVariables) > 0 {
		known := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			known[c] = true
		}
		for _, name := range a.spec.SeriesVariables {
			if !known[name] {
				return nil, models.Configf("series variable %q is not a time-dependent, non-metadata variable of %s", name, a.spec.InputFiles[0])
			}
		}
		series = a.spec.SeriesVariables
	}
	if len(series) == 0 {
		return nil, models.Configf("no time-series variables to write")
	}
	if a.once {
		for _, name := range series {
			if name == a.spec.OnceFileName {
				return nil, models.Configf("series variable %q collides with the once file name", name)
			}
		}
	}
	return series, nil
}

// checkConsistency verifies every later input against the reference. Series
// and time-variant metadata must match in shape; anything else missing is a
// warning.
func (a *analyzer) checkConsistency(ref storage.Reader, inv *Inventory, series []string) error {
	required := make(map[string]bool, len(series)+len(inv.TimeVariant))
	for _, n := range series {
		required[n] = true
	}
	for _, n := range inv.TimeVariant {
		required[n] = true
	}

	refVars := make(map[string]*storage.Variable)
	for _, name := range ref.Variables() {
		v, err := ref.Variable(name)
		if err != nil {
			return models.Configf("%v", err)
		}
		refVars[name] = v
	}

	for _, path := range inv.InputFiles[1:] {
		r, err := a.opener.Open(path)
		if err != nil {
			return models.Configf("input file %s: %v", path, err)
		}
		err = a.checkSlice(r, inv, refVars, required)
		r.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) checkSlice(r storage.Reader, inv *Inventory, refVars map[string]*storage.Variable, required map[string]bool) error {
	path := r.Path()
	for _, name := range sortedKeys(refVars) {
		want := refVars[name]
		got, err := r.Variable(name)
		if err != nil {
			if required[name] {
				return models.Configf("variable %q missing from input file %s", name, path)
			}
			if a.preprocess {
				inv.Warnings = append(inv.Warnings, fmt.Sprintf("variable %q missing from input file %s", name, path))
			}
			continue
		}
		if !required[name] {
			continue
		}
		if len(got.Dimensions) != len(want.Dimensions) {
			return models.Configf("variable %q in %s has dimensions %v, reference has %v", name, path, got.Dimensions, want.Dimensions)
		}
		for i := range want.Dimensions {
			if got.Dimensions[i] != want.Dimensions[i] {
				return models.Configf("variable %q in %s has dimensions %v, reference has %v", name, path, got.Dimensions, want.Dimensions)
			}
			if want.Dimensions[i] != inv.Unlimited && got.Shape[i] != want.Shape[i] {
				return models.Configf("variable %q in %s has shape %v, reference has %v", name, path, got.Shape, want.Shape)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]*storage.Variable) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
