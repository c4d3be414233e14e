package events

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	DefaultMaxLogSize = 20 * 1024 * 1024
	ArchiveDir        = "archive"
)

// LogEntry is one line of the event journal. Checksum chains each entry to
// the one before it in the same file.
type LogEntry struct {
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	TaskID    string         `json:"task_id,omitempty"`
	EntityID  string         `json:"entity_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Checksum  string         `json:"checksum"`
}

// AuditLogger appends every bus event to a JSONL journal. When the file would
// grow past maxSize it is moved to archive/ and a fresh chain starts.
type AuditLogger struct {
	mu       sync.Mutex
	path     string
	maxSize  int64
	file     *os.File
	size     int64
	seq      int64
	prev     string
	archived int
}

func NewAuditLogger(path string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	l := &AuditLogger{path: path, maxSize: maxSize}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

// open appends to the journal, resuming its chain from the last entry.
func (l *AuditLogger) open() error {
	last, err := lastEntry(l.path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	l.file, l.size = f, info.Size()
	l.seq, l.prev = 0, ""
	if last != nil {
		l.seq, l.prev = last.Seq, last.Checksum
	}
	return nil
}

// lastEntry decodes the final complete line of path, or returns nil when the
// file is missing, empty or ends in a torn write.
func lastEntry(path string) (*LogEntry, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	lines := bytes.Split(bytes.TrimRight(content, "\n"), []byte("\n"))
	var e LogEntry
	if err := json.Unmarshal(lines[len(lines)-1], &e); err != nil {
		return nil, nil
	}
	return &e, nil
}

// Attach journals every event published on bus until the returned function
// is called.
func (l *AuditLogger) Attach(bus *Bus) func() {
	return bus.Subscribe(func(e Event) {
		_ = l.Record(e)
	})
}

// Record journals e. A "request_id" in e.Data gets its own column.
func (l *AuditLogger) Record(e Event) error {
	entry := LogEntry{
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		TaskID:    e.TaskID,
		EntityID:  e.EntityID,
		Details:   e.Data,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if reqID, ok := e.Data["request_id"].(string); ok {
		entry.RequestID = reqID
	}
	return l.append(entry)
}

func (l *AuditLogger) append(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("journal closed")
	}

	line, err := l.seal(&entry)
	if err != nil {
		return err
	}
	if l.size > 0 && l.size+int64(len(line)) > l.maxSize {
		if err := l.archive(); err != nil {
			return fmt.Errorf("archive journal: %w", err)
		}
		if line, err = l.seal(&entry); err != nil {
			return err
		}
	}

	n, err := l.file.Write(line)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	l.seq, l.prev = entry.Seq, entry.Checksum
	return nil
}

// seal numbers entry after the current tail and returns its encoded line.
func (l *AuditLogger) seal(entry *LogEntry) ([]byte, error) {
	entry.Seq = l.seq + 1
	sum, err := chainSum(l.prev, entry)
	if err != nil {
		return nil, err
	}
	entry.Checksum = sum
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode journal entry: %w", err)
	}
	return append(data, '\n'), nil
}

func (l *AuditLogger) archive() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	dir := filepath.Join(filepath.Dir(l.path), ArchiveDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	l.archived++
	ext := filepath.Ext(l.path)
	name := fmt.Sprintf("%s.%s.%d%s",
		strings.TrimSuffix(filepath.Base(l.path), ext),
		time.Now().UTC().Format("20060102T150405"), l.archived, ext)
	if err := os.Rename(l.path, filepath.Join(dir, name)); err != nil {
		return err
	}
	return l.open()
}

// chainSum is blake3(prev || entry-without-checksum) in hex.
func chainSum(prev string, entry *LogEntry) (string, error) {
	unsealed := *entry
	unsealed.Checksum = ""
	data, err := json.Marshal(unsealed)
	if err != nil {
		return "", fmt.Errorf("encode journal entry: %w", err)
	}
	h := blake3.New()
	_, _ = h.Write([]byte(prev))
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Close flushes and closes the journal. Further records fail.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// IntegrityReport summarizes a journal check.
type IntegrityReport struct {
	Entries int
	// BrokenAt is the 1-based line of the first entry that does not decode,
	// breaks the sequence or fails its checksum. Zero means the chain is intact.
	BrokenAt int
}

func (r IntegrityReport) OK() bool { return r.BrokenAt == 0 }

// VerifyJournal walks the chain in path and reports the first break.
func VerifyJournal(path string) (IntegrityReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var (
		report IntegrityReport
		prev   string
		seq    int64
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		var e LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			report.BrokenAt = line
			return report, nil
		}
		want, err := chainSum(prev, &e)
		if err != nil || e.Seq != seq+1 || e.Checksum != want {
			report.BrokenAt = line
			return report, nil
		}
		report.Entries++
		prev, seq = e.Checksum, e.Seq
	}
	if err := sc.Err(); err != nil {
		return report, fmt.Errorf("scan journal: %w", err)
	}
	return report, nil
}
