package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	metadataFile = "metadata.json"
	statesFile   = "states.csv"
	inputPrefix  = "input."
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID            string    `json:"id"`
	Model         string    `json:"model"`
	Source        string    `json:"source,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Dt            float64   `json:"dt"`
	Duration      float64   `json:"duration"`
	Ticks         int       `json:"ticks"`
	SchemaVersion uint64    `json:"schema_version"`
	States        []string  `json:"states"`
	Inputs        []string  `json:"inputs"`
}

// Sample is one recorded tick.
type Sample struct {
	Tick   uint64
	Time   float64
	States []float64
	Inputs []float64
}

// Recorder streams samples of one run to disk.
type Recorder struct {
	dir  string
	meta RunMetadata
	file *os.File
	w    *csv.Writer
}

// Create starts a run. meta.States and meta.Inputs fix the column layout.
func (s *Store) Create(meta RunMetadata) (*Recorder, error) {
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	if meta.ID == "" {
		meta.ID = fmt.Sprintf("%s_%d", runName(meta.Model), meta.Timestamp.UnixMilli())
	}
	dir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(dir, statesFile))
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)

	header := []string{"tick", "time"}
	header = append(header, meta.States...)
	for _, name := range meta.Inputs {
		header = append(header, inputPrefix+name)
	}
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}

	return &Recorder{dir: dir, meta: meta, file: f, w: w}, nil
}

func (r *Recorder) ID() string { return r.meta.ID }

func (r *Recorder) Write(smp Sample) error {
	row := make([]string, 0, 2+len(r.meta.States)+len(r.meta.Inputs))
	row = append(row, strconv.FormatUint(smp.Tick, 10), strconv.FormatFloat(smp.Time, 'f', 6, 64))
	row = appendValues(row, smp.States, len(r.meta.States))
	row = appendValues(row, smp.Inputs, len(r.meta.Inputs))
	if err := r.w.Write(row); err != nil {
		return err
	}
	r.meta.Ticks++
	r.meta.Duration = smp.Time
	return nil
}

// Close flushes the samples and writes the run metadata.
func (r *Recorder) Close() error {
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		r.file.Close()
		return err
	}
	if err := r.file.Close(); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(r.dir, metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r.meta)
}

func appendValues(row []string, vals []float64, n int) []string {
	for i := 0; i < n; i++ {
		v := 0.0
		if i < len(vals) {
			v = vals[i]
		}
		row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
	}
	return row
}

func runName(model string) string {
	name := strings.TrimPrefix(model, "builtin:")
	name = filepath.Base(name)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" || name == "." {
		return "run"
	}
	return name
}

// List returns the completed runs, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Series is a recorded run in columnar form.
type Series struct {
	Columns []string
	Ticks   []uint64
	Times   []float64
	Rows    [][]float64
}

// Column returns the values of the named column. Inputs are addressed as
// "input.<name>".
func (s *Series) Column(name string) ([]float64, error) {
	idx := -1
	for i, c := range s.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("no column %q", name)
	}
	out := make([]float64, len(s.Rows))
	for i, row := range s.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

func (s *Store) LoadStates(runID string) (*Series, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, statesFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	series := &Series{}
	if len(records) == 0 {
		return series, nil
	}
	if len(records[0]) >= 2 {
		series.Columns = records[0][2:]
	}

	for _, record := range records[1:] {
		if len(record) < 2 {
			continue
		}
		tick, err := strconv.ParseUint(record[0], 10, 64)
		if err != nil {
			continue
		}
		t, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			continue
		}

		row := make([]float64, 0, len(record)-2)
		for _, field := range record[2:] {
			val, err := strconv.ParseFloat(field, 64)
			if err != nil {
				val = 0
			}
			row = append(row, val)
		}
		series.Ticks = append(series.Ticks, tick)
		series.Times = append(series.Times, t)
		series.Rows = append(series.Rows, row)
	}
	return series, nil
}

type exportData struct {
	RunMetadata
	Columns []string    `json:"columns"`
	Ticks   []uint64    `json:"ticks"`
	Times   []float64   `json:"times"`
	Rows    [][]float64 `json:"rows"`
}

// ExportJSON writes the run metadata and samples as one JSON document.
func (s *Store) ExportJSON(runID string, w io.Writer) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	series, err := s.LoadStates(runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exportData{
		RunMetadata: *meta,
		Columns:     series.Columns,
		Ticks:       series.Ticks,
		Times:       series.Times,
		Rows:        series.Rows,
	})
}
