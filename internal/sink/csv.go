package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

// csvHeader is written once at the top of every per-node output file.
var csvHeader = []string{"timestamp", "iteration", "mcav", "csm", "mature", "context"}

// CSVSink writes classification records to one CSV file per sensor node,
// named centralized_dca-<node>-output.csv, matching the testbed's offline
// analysis tooling. Files are created lazily on the first record for a node
// and flushed after every write so partial runs remain readable.
type CSVSink struct {
	dir string

	mu      sync.Mutex
	writers map[string]*nodeWriter
}

type nodeWriter struct {
	f *os.File
	w *csv.Writer
}

func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir %q: %w", dir, err)
	}
	return &CSVSink{dir: dir, writers: make(map[string]*nodeWriter)}, nil
}

func (s *CSVSink) Write(_ context.Context, recs []*models.ClassificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		nw, err := s.writerFor(rec.NodeID)
		if err != nil {
			return err
		}
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(rec.Iteration, 10),
			strconv.FormatFloat(rec.MCAV, 'f', 6, 64),
			strconv.FormatFloat(rec.CSM, 'f', 6, 64),
			strconv.FormatBool(rec.Mature),
			string(rec.Context),
		}
		if err := nw.w.Write(row); err != nil {
			return fmt.Errorf("csv sink: write row for node %s: %w", rec.NodeID, err)
		}
	}

	for node, nw := range s.writers {
		nw.w.Flush()
		if err := nw.w.Error(); err != nil {
			return fmt.Errorf("csv sink: flush node %s: %w", node, err)
		}
	}
	return nil
}

func (s *CSVSink) writerFor(node string) (*nodeWriter, error) {
	if nw, ok := s.writers[node]; ok {
		return nw, nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("centralized_dca-%s-output.csv", node))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csv sink: open %q: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv sink: write header for node %s: %w", node, err)
	}
	nw := &nodeWriter{f: f, w: w}
	s.writers[node] = nw
	return nw, nil
}

// Close flushes and closes every open per-node file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for node, nw := range s.writers {
		nw.w.Flush()
		if err := nw.w.Error(); err != nil && first == nil {
			first = fmt.Errorf("csv sink: flush node %s: %w", node, err)
		}
		if err := nw.f.Close(); err != nil && first == nil {
			first = fmt.Errorf("csv sink: close node %s: %w", node, err)
		}
	}
	s.writers = make(map[string]*nodeWriter)
	return first
}
