package storage

import (
	"bytes"
	"compress/zlib"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"

	_ "modernc.org/sqlite"
)

const formatName = "slice2series/v1"

var schema = []string{
	`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	`CREATE TABLE dimensions (
		ord INTEGER NOT NULL,
		name TEXT PRIMARY KEY,
		length INTEGER NOT NULL,
		unlimited INTEGER NOT NULL
	)`,
	`CREATE TABLE attributes (
		owner TEXT NOT NULL,
		ord INTEGER NOT NULL,
		name TEXT NOT NULL,
		dtype TEXT NOT NULL,
		shape TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (owner, name)
	)`,
	`CREATE TABLE variables (
		ord INTEGER NOT NULL,
		name TEXT PRIMARY KEY,
		dtype TEXT NOT NULL,
		dims TEXT NOT NULL,
		chunks TEXT NOT NULL
	)`,
	`CREATE TABLE chunks (
		variable TEXT NOT NULL,
		coord TEXT NOT NULL,
		shape TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (variable, coord)
	)`,
}

// SQLiteOpener stores each dataset in a single SQLite file. Variables are
// split into chunks; every chunk row holds its own stored shape so partial
// chunks along the unlimited dimension stay exact.
type SQLiteOpener struct{}

// NewSQLiteOpener creates a new SQLite dataset opener
func NewSQLiteOpener() *SQLiteOpener {
	return &SQLiteOpener{}
}

// Open opens an existing dataset read-only.
func (o *SQLiteOpener) Open(path string) (Reader, error) {
	if err := mustExist(path); err != nil {
		return nil, err
	}
	return openSQLite(path, false)
}

// OpenAppend opens an existing dataset for writing.
func (o *SQLiteOpener) OpenAppend(path string) (Dataset, error) {
	if err := mustExist(path); err != nil {
		return nil, err
	}
	return openSQLite(path, true)
}

// Create creates a new empty dataset.
func (o *SQLiteOpener) Create(path string, opts CreateOptions) (Dataset, error) {
	if opts.Compression < 0 || opts.Compression > 9 {
		return nil, fmt.Errorf("compression level %d out of range 0-9", opts.Compression)
	}
	exists, err := o.Exists(path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			db.Close()
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	meta := [][2]string{
		{"format", formatName},
		{"compression", strconv.Itoa(opts.Compression)},
	}
	for _, kv := range meta {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			tx.Rollback()
			db.Close()
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	return &sqliteDataset{
		path:        path,
		db:          db,
		writable:    true,
		compression: opts.Compression,
		vars:        make(map[string]*varInfo),
	}, nil
}

// Exists reports whether a file exists at path.
func (o *SQLiteOpener) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Remove deletes the dataset file and any journal left beside it.
func (o *SQLiteOpener) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func mustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	return nil
}

type varInfo struct {
	name   string
	dtype  DType
	dims   []string
	chunks []int
	attrs  []Attribute
}

type sqliteDataset struct {
	path        string
	db          *sql.DB
	writable    bool
	compression int

	dims  []Dimension
	attrs []Attribute
	order []string
	vars  map[string]*varInfo
}

func openSQLite(path string, writable bool) (*sqliteDataset, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ds := &sqliteDataset{
		path:     path,
		db:       db,
		writable: writable,
		vars:     make(map[string]*varInfo),
	}
	if err := ds.load(); err != nil {
		db.Close()
		return nil, err
	}
	return ds, nil
}

func (s *sqliteDataset) load() error {
	var format, level string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'format'`).Scan(&format); err != nil {
		return fmt.Errorf("%s is not a dataset: %w", s.path, err)
	}
	if format != formatName {
		return fmt.Errorf("%s has unsupported format %q", s.path, format)
	}
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'compression'`).Scan(&level); err != nil {
		return fmt.Errorf("%s: failed to read compression: %w", s.path, err)
	}
	n, err := strconv.Atoi(level)
	if err != nil {
		return fmt.Errorf("%s: bad compression level %q", s.path, level)
	}
	s.compression = n

	rows, err := s.db.Query(`SELECT name, length, unlimited FROM dimensions ORDER BY ord`)
	if err != nil {
		return fmt.Errorf("%s: failed to read dimensions: %w", s.path, err)
	}
	for rows.Next() {
		var d Dimension
		if err := rows.Scan(&d.Name, &d.Length, &d.Unlimited); err != nil {
			rows.Close()
			return err
		}
		s.dims = append(s.dims, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT name, dtype, dims, chunks FROM variables ORDER BY ord`)
	if err != nil {
		return fmt.Errorf("%s: failed to read variables: %w", s.path, err)
	}
	for rows.Next() {
		var v varInfo
		var dtype, dims, chunks string
		if err := rows.Scan(&v.name, &dtype, &dims, &chunks); err != nil {
			rows.Close()
			return err
		}
		v.dtype = DType(dtype)
		if err := json.Unmarshal([]byte(dims), &v.dims); err != nil {
			rows.Close()
			return fmt.Errorf("%s: variable %q: %w", s.path, v.name, err)
		}
		if v.chunks, err = parseInts(chunks); err != nil {
			rows.Close()
			return fmt.Errorf("%s: variable %q: %w", s.path, v.name, err)
		}
		s.order = append(s.order, v.name)
		s.vars[v.name] = &v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT owner, name, dtype, shape, data FROM attributes ORDER BY owner, ord`)
	if err != nil {
		return fmt.Errorf("%s: failed to read attributes: %w", s.path, err)
	}
	defer rows.Close()
	for rows.Next() {
		var owner, name, dtype, shape string
		var data []byte
		if err := rows.Scan(&owner, &name, &dtype, &shape, &data); err != nil {
			return err
		}
		dims, err := parseInts(shape)
		if err != nil {
			return err
		}
		attr := Attribute{Name: name, Value: Array{DType: DType(dtype), Shape: dims, Data: data}}
		if owner == "" {
			s.attrs = append(s.attrs, attr)
			continue
		}
		if v, ok := s.vars[owner]; ok {
			v.attrs = append(v.attrs, attr)
		}
	}
	return rows.Err()
}

func (s *sqliteDataset) Path() string { return s.path }

func (s *sqliteDataset) Dimensions() []Dimension {
	return append([]Dimension(nil), s.dims...)
}

func (s *sqliteDataset) Unlimited() (Dimension, bool) {
	for _, d := range s.dims {
		if d.Unlimited {
			return d, true
		}
	}
	return Dimension{}, false
}

func (s *sqliteDataset) Attributes() []Attribute {
	return append([]Attribute(nil), s.attrs...)
}

func (s *sqliteDataset) Variables() []string {
	return append([]string(nil), s.order...)
}

func (s *sqliteDataset) Variable(name string) (*Variable, error) {
	v, ok := s.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrNoVariable, name, s.path)
	}
	return s.describe(v), nil
}

func (s *sqliteDataset) describe(v *varInfo) *Variable {
	return &Variable{
		Name:       v.name,
		DType:      v.dtype,
		Dimensions: append([]string(nil), v.dims...),
		Shape:      s.shapeOf(v),
		Chunks:     append([]int(nil), v.chunks...),
		Attributes: append([]Attribute(nil), v.attrs...),
	}
}

func (s *sqliteDataset) shapeOf(v *varInfo) []int {
	shape := make([]int, len(v.dims))
	for i, name := range v.dims {
		d, _ := FindDimension(s.dims, name)
		shape[i] = d.Length
	}
	return shape
}

func (s *sqliteDataset) unlimitedName() string {
	d, _ := s.Unlimited()
	return d.Name
}

func (s *sqliteDataset) DefineDimension(d Dimension) error {
	if !s.writable {
		return ErrReadOnly
	}
	if d.Name == "" {
		return errors.New("dimension name is empty")
	}
	if _, ok := FindDimension(s.dims, d.Name); ok {
		return fmt.Errorf("dimension %q already defined in %s", d.Name, s.path)
	}
	if d.Length < 0 {
		return fmt.Errorf("dimension %q has negative length", d.Name)
	}
	if d.Unlimited {
		if _, ok := s.Unlimited(); ok {
			return fmt.Errorf("%s already has an unlimited dimension", s.path)
		}
		d.Length = 0
	}
	_, err := s.db.Exec(
		`INSERT INTO dimensions (ord, name, length, unlimited) VALUES (?, ?, ?, ?)`,
		len(s.dims), d.Name, d.Length, d.Unlimited,
	)
	if err != nil {
		return fmt.Errorf("failed to define dimension %q: %w", d.Name, err)
	}
	s.dims = append(s.dims, d)
	return nil
}

func (s *sqliteDataset) SetAttributes(attrs []Attribute) error {
	if !s.writable {
		return ErrReadOnly
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM attributes WHERE owner = ''`); err != nil {
		return err
	}
	if err := insertAttributes(tx, "", attrs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.attrs = append([]Attribute(nil), attrs...)
	return nil
}

func insertAttributes(tx *sql.Tx, owner string, attrs []Attribute) error {
	for i, a := range attrs {
		if err := a.Value.Validate(); err != nil {
			return fmt.Errorf("attribute %q: %w", a.Name, err)
		}
		_, err := tx.Exec(
			`INSERT INTO attributes (owner, ord, name, dtype, shape, data) VALUES (?, ?, ?, ?, ?, ?)`,
			owner, i, a.Name, string(a.Value.DType), formatInts(a.Value.Shape), a.Value.Data,
		)
		if err != nil {
			return fmt.Errorf("failed to store attribute %q: %w", a.Name, err)
		}
	}
	return nil
}

func (s *sqliteDataset) DefineVariable(def VariableDef) error {
	if !s.writable {
		return ErrReadOnly
	}
	if def.Name == "" {
		return errors.New("variable name is empty")
	}
	if _, ok := s.vars[def.Name]; ok {
		return fmt.Errorf("variable %q already defined in %s", def.Name, s.path)
	}
	if !def.DType.Valid() {
		return fmt.Errorf("variable %q: unknown dtype %q", def.Name, def.DType)
	}

	chunks := make([]int, len(def.Dimensions))
	for i, name := range def.Dimensions {
		d, ok := FindDimension(s.dims, name)
		if !ok {
			return fmt.Errorf("variable %q: undefined dimension %q", def.Name, name)
		}
		c := 0
		if i < len(def.Chunks) {
			c = def.Chunks[i]
		}
		switch {
		case d.Unlimited:
			if c <= 0 {
				c = 1
			}
		default:
			full := max(d.Length, 1)
			if c <= 0 || c > full {
				c = full
			}
		}
		chunks[i] = c
	}

	dims, err := json.Marshal(def.Dimensions)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO variables (ord, name, dtype, dims, chunks) VALUES (?, ?, ?, ?, ?)`,
		len(s.order), def.Name, string(def.DType), string(dims), formatInts(chunks),
	)
	if err != nil {
		return fmt.Errorf("failed to define variable %q: %w", def.Name, err)
	}
	if err := insertAttributes(tx, def.Name, def.Attributes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.order = append(s.order, def.Name)
	s.vars[def.Name] = &varInfo{
		name:   def.Name,
		dtype:  def.DType,
		dims:   append([]string(nil), def.Dimensions...),
		chunks: chunks,
		attrs:  append([]Attribute(nil), def.Attributes...),
	}
	return nil
}

func (s *sqliteDataset) Write(name string, start []int, data Array) error {
	if !s.writable {
		return ErrReadOnly
	}
	v, ok := s.vars[name]
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrNoVariable, name, s.path)
	}
	if data.DType != v.dtype {
		return fmt.Errorf("%w: variable %q is %s, data is %s", ErrDType, name, v.dtype, data.DType)
	}
	if err := data.Validate(); err != nil {
		return fmt.Errorf("variable %q: %w", name, err)
	}
	unlimited := s.unlimitedName()
	shape := s.shapeOf(v)
	desc := &Variable{Name: name, Dimensions: v.dims, Shape: shape}
	if err := checkSlab(desc, start, data.Shape, true, unlimited); err != nil {
		return err
	}
	if data.Len() == 0 {
		return nil
	}

	size := v.dtype.Size()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lo, hi := chunkRange(start, data.Shape, v.chunks)
	err = forEachChunk(lo, hi, func(coord []int) error {
		n := len(coord)
		origin := make([]int, n)
		for d := range coord {
			origin[d] = coord[d] * v.chunks[d]
		}

		oldShape, oldData, found, err := s.loadChunk(tx, name, coord)
		if err != nil {
			return err
		}

		newShape := make([]int, n)
		for d := range coord {
			if v.dims[d] == unlimited {
				end := min(start[d]+data.Shape[d], origin[d]+v.chunks[d]) - origin[d]
				if found && oldShape[d] > end {
					end = oldShape[d]
				}
				newShape[d] = end
				continue
			}
			newShape[d] = min(v.chunks[d], shape[d]-origin[d])
		}

		buf := oldData
		if !found {
			buf = make([]byte, product(newShape)*size)
		} else if !equalInts(oldShape, newShape) {
			buf = make([]byte, product(newShape)*size)
			copyBlock(buf, newShape, make([]int, n), oldData, oldShape, make([]int, n), oldShape, size)
		}

		srcStart := make([]int, n)
		dstStart := make([]int, n)
		count := make([]int, n)
		for d := range coord {
			from := max(start[d], origin[d])
			to := min(start[d]+data.Shape[d], origin[d]+v.chunks[d])
			count[d] = to - from
			srcStart[d] = from - start[d]
			dstStart[d] = from - origin[d]
		}
		copyBlock(buf, newShape, dstStart, data.Data, data.Shape, srcStart, count, size)
		return s.storeChunk(tx, name, coord, newShape, buf)
	})
	if err != nil {
		return fmt.Errorf("failed to write %q in %s: %w", name, s.path, err)
	}

	grow := -1
	if t := indexOf(v.dims, unlimited); unlimited != "" && t >= 0 {
		if end := start[t] + data.Shape[t]; end > shape[t] {
			grow = end
			if _, err := tx.Exec(`UPDATE dimensions SET length = ? WHERE name = ?`, end, unlimited); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if grow >= 0 {
		for i := range s.dims {
			if s.dims[i].Unlimited {
				s.dims[i].Length = grow
			}
		}
	}
	return nil
}

func (s *sqliteDataset) Read(name string, start, count []int) (Array, error) {
	v, ok := s.vars[name]
	if !ok {
		return Array{}, fmt.Errorf("%w: %q in %s", ErrNoVariable, name, s.path)
	}
	desc := &Variable{Name: name, Dimensions: v.dims, Shape: s.shapeOf(v)}
	if err := checkSlab(desc, start, count, false, ""); err != nil {
		return Array{}, err
	}
	out := NewArray(v.dtype, count)
	if out.Len() == 0 {
		return out, nil
	}

	size := v.dtype.Size()
	lo, hi := chunkRange(start, count, v.chunks)
	err := forEachChunk(lo, hi, func(coord []int) error {
		shape, data, found, err := s.loadChunk(s.db, name, coord)
		if err != nil || !found {
			return err
		}
		n := len(coord)
		srcStart := make([]int, n)
		dstStart := make([]int, n)
		cnt := make([]int, n)
		for d := range coord {
			origin := coord[d] * v.chunks[d]
			from := max(start[d], origin)
			to := min(start[d]+count[d], origin+shape[d])
			if to <= from {
				return nil
			}
			cnt[d] = to - from
			srcStart[d] = from - origin
			dstStart[d] = from - start[d]
		}
		copyBlock(out.Data, count, dstStart, data, shape, srcStart, cnt, size)
		return nil
	})
	if err != nil {
		return Array{}, fmt.Errorf("failed to read %q in %s: %w", name, s.path, err)
	}
	return out, nil
}

func (s *sqliteDataset) ChunkShapes(name string) ([][]int, error) {
	if _, ok := s.vars[name]; !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrNoVariable, name, s.path)
	}
	rows, err := s.db.Query(`SELECT coord, shape FROM chunks WHERE variable = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type entry struct{ coord, shape []int }
	var entries []entry
	for rows.Next() {
		var coord, shape string
		if err := rows.Scan(&coord, &shape); err != nil {
			return nil, err
		}
		c, err := parseInts(coord)
		if err != nil {
			return nil, err
		}
		sh, err := parseInts(shape)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{c, sh})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return lessInts(entries[i].coord, entries[j].coord) })

	out := make([][]int, len(entries))
	for i, e := range entries {
		out[i] = e.shape
	}
	return out, nil
}

func (s *sqliteDataset) Close() error {
	return s.db.Close()
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (s *sqliteDataset) loadChunk(q queryRower, name string, coord []int) ([]int, []byte, bool, error) {
	var shape string
	var blob []byte
	err := q.QueryRow(`SELECT shape, data FROM chunks WHERE variable = ? AND coord = ?`, name, formatInts(coord)).Scan(&shape, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	dims, err := parseInts(shape)
	if err != nil {
		return nil, nil, false, err
	}
	data, err := s.decode(blob)
	if err != nil {
		return nil, nil, false, err
	}
	return dims, data, true, nil
}

func (s *sqliteDataset) storeChunk(tx *sql.Tx, name string, coord, shape []int, data []byte) error {
	blob, err := s.encode(data)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT OR REPLACE INTO chunks (variable, coord, shape, data) VALUES (?, ?, ?, ?)`,
		name, formatInts(coord), formatInts(shape), blob,
	)
	return err
}

func (s *sqliteDataset) encode(data []byte) ([]byte, error) {
	if s.compression == 0 {
		return data, nil
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, s.compression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *sqliteDataset) decode(blob []byte) ([]byte, error) {
	if s.compression == 0 {
		return blob, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexOf(list []string, name string) int {
	for i, s := range list {
		if s == name {
			return i
		}
	}
	return -1
}
