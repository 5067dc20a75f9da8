// Package auditlog keeps durable copies of partition audits outside the
// database: a JSON-lines file and an optional Redis list.
package auditlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// FileSink appends one JSON line per partition audit
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the audit file for appending
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{file: f}, nil
}

// RecordPartition writes the audit and syncs the file. Records are not stored.
func (s *FileSink) RecordPartition(ctx context.Context, runID string, audit domain.PartitionAudit, records []domain.RawRecord) error {
	audit.RunID = runID
	line, err := json.Marshal(audit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return s.file.Sync()
}

// Close closes the file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ReadAudits decodes a JSON-lines audit log. An empty runID returns every line.
func ReadAudits(r io.Reader, runID string) ([]domain.PartitionAudit, error) {
	var audits []domain.PartitionAudit
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var a domain.PartitionAudit
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		if runID == "" || a.RunID == runID {
			audits = append(audits, a)
		}
	}
	return audits, scanner.Err()
}

// ReadAuditFile reads the audits of a run from a JSON-lines file
func ReadAuditFile(path, runID string) ([]domain.PartitionAudit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAudits(f, runID)
}
