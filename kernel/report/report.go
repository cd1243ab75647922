// Package report persists run results: JSON result files (optionally brotli
// compressed), msgpack row traces, a YAML manifest describing the run and
// aligned text tables for the console.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/nmxmxh/procmesh/kernel/experiment"
	"github.com/nmxmxh/procmesh/kernel/utils"
)

const (
	ResultFile   = "result.json"
	TraceFile    = "trace.msgpack"
	ManifestFile = "manifest.yaml"
	SummaryFile  = "summary.json"
)

// Manifest describes the files of one saved run.
type Manifest struct {
	RunID     string              `yaml:"run_id"`
	Created   time.Time           `yaml:"created"`
	Scenario  experiment.Scenario `yaml:"scenario"`
	Devices   int                 `yaml:"devices"`
	Side      float64             `yaml:"side"`
	InfoSpeed float64             `yaml:"infospeed"`
	Threshold float64             `yaml:"threshold"`
	Rows      int                 `yaml:"rows"`
	Elapsed   string              `yaml:"elapsed"`
	Files     []string            `yaml:"files"`
}

// NewManifest describes res.
func NewManifest(res *experiment.Result) Manifest {
	params := res.Scenario.Params()
	return Manifest{
		RunID:     res.RunID,
		Created:   time.Now().UTC(),
		Scenario:  res.Scenario,
		Devices:   res.Devices,
		Side:      res.Side,
		InfoSpeed: params.InfoSpeed,
		Threshold: params.Threshold(),
		Rows:      len(res.Rows),
		Elapsed:   res.Elapsed.String(),
	}
}

// WriteJSON encodes v as indented JSON, brotli compressed when compress is
// set.
func WriteJSON(w io.Writer, v any, compress bool) error {
	if !compress {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	bw := brotli.NewWriterLevel(w, brotli.DefaultCompression)
	if err := json.NewEncoder(bw).Encode(v); err != nil {
		bw.Close()
		return fmt.Errorf("encode json: %w", err)
	}
	return bw.Close()
}

// ReadJSON decodes JSON written by WriteJSON.
func ReadJSON(r io.Reader, v any, compressed bool) error {
	if compressed {
		r = brotli.NewReader(r)
	}
	return json.NewDecoder(r).Decode(v)
}

// WriteTrace streams rows as a sequence of msgpack values.
func WriteTrace(w io.Writer, rows []experiment.Row) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.EncodeArrayLen(len(rows)); err != nil {
		return err
	}
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	return nil
}

// ReadTrace decodes a trace written by WriteTrace.
func ReadTrace(r io.Reader) ([]experiment.Row, error) {
	dec := msgpack.NewDecoder(r)
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	rows := make([]experiment.Row, n)
	for i := range rows {
		if err := dec.Decode(&rows[i]); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", i, err)
		}
	}
	return rows, nil
}

// WriteManifest encodes m as YAML.
func WriteManifest(w io.Writer, m Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// ReadManifest decodes a manifest.
func ReadManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	err := yaml.NewDecoder(r).Decode(&m)
	return m, err
}

// Writer saves results below a base directory, one directory per run.
type Writer struct {
	dir      string
	compress bool
	logger   *slog.Logger
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, compress bool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		dir:      dir,
		compress: compress,
		logger:   logger.With("component", "report"),
	}
}

// Save writes the result, trace and manifest of res and returns the run
// directory.
func (w *Writer) Save(res *experiment.Result) (string, error) {
	runDir := filepath.Join(w.dir, res.Scenario.Name+"-"+utils.ShortID(res.RunID))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", utils.WrapError(err, "create run directory")
	}

	m := NewManifest(res)
	result := ResultFile
	if w.compress {
		result += ".br"
	}
	if err := w.create(filepath.Join(runDir, result), func(f io.Writer) error {
		return WriteJSON(f, res, w.compress)
	}); err != nil {
		return "", err
	}
	if err := w.create(filepath.Join(runDir, TraceFile), func(f io.Writer) error {
		return WriteTrace(f, res.Rows)
	}); err != nil {
		return "", err
	}
	m.Files = []string{result, TraceFile}
	if err := w.create(filepath.Join(runDir, ManifestFile), func(f io.Writer) error {
		return WriteManifest(f, m)
	}); err != nil {
		return "", err
	}

	w.logger.Info("run saved", "run", utils.ShortID(res.RunID), "dir", runDir, "rows", len(res.Rows))
	return runDir, nil
}

// SaveSummary writes batch summaries to the base directory.
func (w *Writer) SaveSummary(summaries []experiment.Summary) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", utils.WrapError(err, "create report directory")
	}
	name := SummaryFile
	if w.compress {
		name += ".br"
	}
	path := filepath.Join(w.dir, name)
	if err := w.create(path, func(f io.Writer) error {
		return WriteJSON(f, summaries, w.compress)
	}); err != nil {
		return "", err
	}
	w.logger.Info("batch summary saved", "path", path, "entries", len(summaries))
	return path, nil
}

func (w *Writer) create(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return utils.WrapError(err, "create "+filepath.Base(path))
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = utils.WrapError(cerr, "close "+filepath.Base(path))
		}
	}()
	if err := write(f); err != nil {
		return utils.WrapError(err, "write "+filepath.Base(path))
	}
	return nil
}
