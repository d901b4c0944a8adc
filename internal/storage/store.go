// Package storage archives runs on disk: one directory per run holding
// metadata.json, the statistics time series in stats.csv and the field
// snapshots and checkpoints in fields.db.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/rdspiral/internal/checkpoint"
	"github.com/san-kum/rdspiral/internal/dynamo"
	"github.com/san-kum/rdspiral/internal/metrics"
)

const (
	metadataFile = "metadata.json"
	statsFile    = "stats.csv"
	fieldsFile   = "fields.db"
)

var statsHeader = []string{"time", "u_mean", "v_mean", "u_std", "v_std", "u_min", "u_max", "v_min", "v_max", "complexity"}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Timestamp   time.Time          `json:"timestamp"`
	Params      dynamo.Params      `json:"params"`
	SaveFields  bool               `json:"save_fields"`
	Verdict     metrics.Verdict    `json:"verdict"`
	FinalTime   float64            `json:"final_time"`
	Steps       dynamo.StepStats   `json:"steps"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	WallTime    float64            `json:"wall_time_seconds"`
	Completed   bool               `json:"completed"`
	Error       string             `json:"error,omitempty"`
	ResumedFrom float64            `json:"resumed_from,omitempty"`
	Options     RunOptions         `json:"options"`
}

// RunOptions are the driver settings a resumed run picks up again.
type RunOptions struct {
	StopOnVerdict          bool `json:"stop_on_verdict"`
	StopOnPersistenceError bool `json:"stop_on_persistence_error"`
}

// Run is an open run directory. It satisfies the simulator's sink
// interface; writes are not safe for concurrent use.
type Run struct {
	dir    string
	meta   RunMetadata
	stats  *os.File
	csv    *csv.Writer
	fields *FieldDB
}

// Create makes a new run directory <name>_<uuid8>.
func (s *Store) Create(name string, p dynamo.Params, saveFields bool) (*Run, error) {
	id := fmt.Sprintf("%s_%s", name, uuid.NewString()[:8])
	dir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	r := &Run{
		dir: dir,
		meta: RunMetadata{
			ID:         id,
			Name:       name,
			Timestamp:  time.Now(),
			Params:     p,
			SaveFields: saveFields,
		},
	}
	if err := r.writeMetadata(); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, statsFile))
	if err != nil {
		return nil, err
	}
	r.stats, r.csv = f, csv.NewWriter(f)
	if err := r.csv.Write(statsHeader); err != nil {
		f.Close()
		return nil, err
	}
	r.csv.Flush()

	if r.fields, err = OpenFieldDB(filepath.Join(dir, fieldsFile)); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Open reopens an existing run for appending, discarding every sample and
// snapshot recorded after t so the resumed segment does not duplicate them.
func (s *Store) Open(runID string, t float64) (*Run, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	samples, err := s.LoadStats(runID)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.baseDir, runID)
	f, err := os.Create(filepath.Join(dir, statsFile))
	if err != nil {
		return nil, err
	}
	r := &Run{dir: dir, meta: *meta, stats: f, csv: csv.NewWriter(f)}
	r.meta.ResumedFrom = t
	r.meta.Completed = false
	if err := r.csv.Write(statsHeader); err != nil {
		f.Close()
		return nil, err
	}
	for _, smp := range samples {
		if smp.Time > t {
			break
		}
		if err := r.csv.Write(sampleRow(smp)); err != nil {
			f.Close()
			return nil, err
		}
	}
	r.csv.Flush()

	if r.fields, err = OpenFieldDB(filepath.Join(dir, fieldsFile)); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := r.fields.conn.Exec("DELETE FROM snapshots WHERE time > ?", t); err != nil {
		r.Close()
		return nil, err
	}
	return r, r.csv.Error()
}

// SetOptions records the driver settings in metadata.json.
func (r *Run) SetOptions(o RunOptions) error {
	r.meta.Options = o
	return r.writeMetadata()
}

func (r *Run) ID() string             { return r.meta.ID }
func (r *Run) Dir() string            { return r.dir }
func (r *Run) Fields() *FieldDB       { return r.fields }
func (r *Run) Metadata() *RunMetadata { return &r.meta }

func (r *Run) writeMetadata() error {
	f, err := os.Create(filepath.Join(r.dir, metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r.meta)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sampleRow(s metrics.Sample) []string {
	return []string{
		formatFloat(s.Time),
		formatFloat(s.UMean), formatFloat(s.VMean),
		formatFloat(s.UStd), formatFloat(s.VStd),
		formatFloat(s.UMin), formatFloat(s.UMax),
		formatFloat(s.VMin), formatFloat(s.VMax),
		formatFloat(s.Complexity),
	}
}

func (r *Run) WriteSample(s metrics.Sample) error {
	if err := r.csv.Write(sampleRow(s)); err != nil {
		return err
	}
	r.csv.Flush()
	return r.csv.Error()
}

// WriteSnapshot stores fields only when the run was created with
// saveFields.
func (r *Run) WriteSnapshot(t float64, p dynamo.FieldPair) error {
	if !r.meta.SaveFields {
		return nil
	}
	return r.fields.SaveSnapshot(t, p)
}

func (r *Run) WriteCheckpoint(rec checkpoint.Record) error {
	return r.fields.SaveCheckpoint(rec)
}

func (r *Run) WriteVerdict(v metrics.Verdict) error {
	r.meta.Verdict = v
	return r.writeMetadata()
}

// Finish records the run outcome in metadata.json.
func (r *Run) Finish(finalTime float64, steps dynamo.StepStats, m map[string]float64, wall time.Duration, runErr error) error {
	r.meta.FinalTime = finalTime
	r.meta.Steps = steps
	r.meta.Metrics = m
	r.meta.WallTime = wall.Seconds()
	r.meta.Completed = runErr == nil
	r.meta.Error = ""
	if runErr != nil {
		r.meta.Error = runErr.Error()
	}
	return r.writeMetadata()
}

func (r *Run) Close() error {
	var errs []error
	if r.csv != nil {
		r.csv.Flush()
		errs = append(errs, r.csv.Error())
	}
	if r.stats != nil {
		errs = append(errs, r.stats.Close())
	}
	if r.fields != nil {
		errs = append(errs, r.fields.Close())
	}
	return errors.Join(errs...)
}

// List returns the metadata of every run, newest first.
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
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

// Locate resolves ref, either a run ID under baseDir or the path of a run
// directory, into the store holding it and the run ID.
func Locate(baseDir, ref string) (*Store, string) {
	if info, err := os.Stat(filepath.Join(ref, metadataFile)); err == nil && !info.IsDir() {
		dir := filepath.Clean(ref)
		return New(filepath.Dir(dir)), filepath.Base(dir)
	}
	return New(baseDir), ref
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

func (s *Store) LoadStats(runID string) ([]metrics.Sample, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, statsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadStats(file)
}

// ReadStats parses a stats.csv stream. Rows that do not parse are skipped.
func ReadStats(in io.Reader) ([]metrics.Sample, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []metrics.Sample{}, nil
	}

	samples := make([]metrics.Sample, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) != len(statsHeader) {
			continue
		}
		var vals [10]float64
		ok := true
		for j := range vals {
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				ok = false
				break
			}
			vals[j] = v
		}
		if !ok {
			continue
		}
		samples = append(samples, metrics.Sample{
			Time:  vals[0],
			UMean: vals[1], VMean: vals[2],
			UStd: vals[3], VStd: vals[4],
			UMin: vals[5], UMax: vals[6],
			VMin: vals[7], VMax: vals[8],
			Complexity: vals[9],
		})
	}
	return samples, nil
}

// OpenFields opens the field archive of a stored run read-write.
func (s *Store) OpenFields(runID string) (*FieldDB, error) {
	path := filepath.Join(s.baseDir, runID, fieldsFile)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return OpenFieldDB(path)
}
