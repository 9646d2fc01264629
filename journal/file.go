package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/blelink/link"
	"github.com/user/blelink/logger"
	"github.com/user/blelink/util"
)

// EventsFileName is the per-device JSONL journal
const EventsFileName = "link_events.jsonl"

// FileJournal appends one JSON object per lifecycle event
type FileJournal struct {
	path   string
	prefix string
	mu     sync.Mutex
	file   *os.File
}

// NewFileJournal opens (or creates) path in append mode
func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &FileJournal{
		path:   path,
		prefix: "journal",
		file:   f,
	}, nil
}

// DefaultFilePath returns {data}/{id}/link_events.jsonl
func DefaultFilePath(deviceID string) string {
	return filepath.Join(util.GetDeviceDir(deviceID), EventsFileName)
}

// Path returns the file being written
func (j *FileJournal) Path() string {
	return j.path
}

// Record writes e as a single JSON line. Failures are logged, never returned.
func (j *FileJournal) Record(e link.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Warn(j.prefix, "failed to marshal %s event: %v", e.Kind, err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		logger.Warn(j.prefix, "failed to write %s: %v", j.path, err)
	}
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
