// File: storage/storage.go
package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"election-ledger/models"
)

const (
	reportPattern = "audit_report_*.json"
	reportLayout  = "20060102150405.000000000"
)

// AuditArchive keeps the most recent audit reports as timestamped JSON files.
type AuditArchive struct {
	dataDir string
	keep    int
	mutex   sync.RWMutex
}

type reportFile struct {
	path      string
	timestamp time.Time
}

type reportFiles []reportFile

func (f reportFiles) Len() int           { return len(f) }
func (f reportFiles) Less(i, j int) bool { return f[i].timestamp.Before(f[j].timestamp) }
func (f reportFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func NewAuditArchive(dataDir string, keep int) (*AuditArchive, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	if keep <= 0 {
		keep = 1
	}

	return &AuditArchive{dataDir: absPath, keep: keep}, nil
}

// listReports returns the archived report files sorted oldest first.
func (a *AuditArchive) listReports() (reportFiles, error) {
	files, err := filepath.Glob(filepath.Join(a.dataDir, reportPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var reports reportFiles
	for _, file := range files {
		base := filepath.Base(file)
		parts := strings.Split(base, "_")
		if len(parts) < 3 {
			continue
		}

		timestamp, err := time.Parse(reportLayout, strings.TrimSuffix(parts[2], ".json"))
		if err != nil {
			log.Printf("Warning: Invalid timestamp in filename %s: %v", base, err)
			continue
		}
		reports = append(reports, reportFile{path: file, timestamp: timestamp})
	}

	sort.Sort(reports)
	return reports, nil
}

// SaveReport writes the report and prunes all but the newest files.
func (a *AuditArchive) SaveReport(report *models.AuditReport) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	filename := filepath.Join(a.dataDir, fmt.Sprintf("audit_report_%s.json", report.At.UTC().Format(reportLayout)))

	data, err := json.MarshalIndent(report, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tempPath := filename + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	if err := os.Rename(tempPath, filename); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save report file: %w", err)
	}

	if err := a.cleanupOldFiles(); err != nil {
		log.Printf("Warning: Failed to cleanup old audit reports: %v", err)
	}
	return nil
}

// LatestReport returns the newest archived report.
func (a *AuditArchive) LatestReport() (*models.AuditReport, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	reports, err := a.listReports()
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("%w: no audit reports", ErrNotFound)
	}

	latest := reports[len(reports)-1].path
	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", latest, err)
	}

	var report models.AuditReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report from %s: %w", latest, err)
	}
	return &report, nil
}

func (a *AuditArchive) cleanupOldFiles() error {
	reports, err := a.listReports()
	if err != nil {
		return err
	}

	for i := 0; i < len(reports)-a.keep; i++ {
		if err := os.Remove(reports[i].path); err != nil {
			log.Printf("Warning: Failed to remove old report %s: %v", reports[i].path, err)
		}
	}
	return nil
}
