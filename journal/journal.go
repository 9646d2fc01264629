// Package journal persists controller lifecycle events for later inspection.
package journal

import (
	"fmt"
	"io"
	"strings"

	"github.com/user/blelink/link"
)

// Journal is a link.Recorder that holds a file or database open
type Journal interface {
	link.Recorder
	io.Closer
}

type nopJournal struct{}

func (nopJournal) Record(link.Event) {}
func (nopJournal) Close() error      { return nil }

// Open selects a journal from a spec string:
//
//	"" or "off"     no journal
//	"jsonl"         {data}/{id}/link_events.jsonl
//	"jsonl:<path>"  JSON lines at path
//	"sqlite:<path>" SQLite database at path
func Open(spec, deviceID string) (Journal, error) {
	kind, path, _ := strings.Cut(spec, ":")
	switch kind {
	case "", "off":
		return nopJournal{}, nil
	case "jsonl":
		if path == "" {
			path = DefaultFilePath(deviceID)
		}
		return NewFileJournal(path)
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite journal needs a path (sqlite:<path>)")
		}
		return NewSQLJournal(path)
	default:
		return nil, fmt.Errorf("unknown journal %q (want off, jsonl, jsonl:<path> or sqlite:<path>)", spec)
	}
}
