package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T, maxSize int64) (*AuditLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	l, err := NewAuditLogger(path, maxSize)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readJournal(t *testing.T, path string) []LogEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []LogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestAuditLogger_RecordLiftsIDs(t *testing.T) {
	l, path := openJournal(t, 0)
	assert.FileExists(t, path)

	require.NoError(t, l.Record(Event{
		Type:   EventSeekApplied,
		TaskID: "task_1",
		Data:   map[string]any{"request_id": "req_01", "phase_index": 1, "phase_iteration": 2},
	}))

	entries := readJournal(t, path)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, int64(1), e.Seq)
	assert.Equal(t, string(EventSeekApplied), e.EventType)
	assert.Equal(t, "task_1", e.TaskID)
	assert.Equal(t, "req_01", e.RequestID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Len(t, e.Checksum, 64)
}

func TestAuditLogger_AttachJournalsBusTraffic(t *testing.T) {
	l, path := openJournal(t, 0)
	bus := NewBus(10)
	defer bus.Close()
	defer l.Attach(bus)()

	bus.Publish(Event{Type: EventTaskStatusChanged, TaskID: "task_9"})
	bus.Publish(Event{Type: EventConnectionChanged, Data: map[string]any{"connected": true}})

	require.Eventually(t, func() bool { return len(readJournal(t, path)) == 2 }, 2*time.Second, 10*time.Millisecond)
	entries := readJournal(t, path)
	assert.Equal(t, "task_9", entries[0].TaskID)
	assert.Equal(t, string(EventConnectionChanged), entries[1].EventType)
}

func TestAuditLogger_ConcurrentRecordsKeepChain(t *testing.T) {
	l, path := openJournal(t, 0)

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, l.Record(Event{Type: EventProcessStarted, EntityID: "proc", Data: map[string]any{"g": g, "i": i}}))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	report, err := VerifyJournal(path)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 200, report.Entries)
}

func TestAuditLogger_ArchivesAndRestartsChain(t *testing.T) {
	l, path := openJournal(t, 1024)
	archive := filepath.Join(filepath.Dir(path), ArchiveDir)
	details := map[string]any{"notes": strings.Repeat("x", 200)}

	for i := 0; i < 20; i++ {
		require.NoError(t, l.Record(Event{Type: EventProcessCompleted, Data: details}))
	}

	files, err := os.ReadDir(archive)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	name := files[0].Name()
	assert.True(t, strings.HasPrefix(name, "events."), name)
	assert.True(t, strings.HasSuffix(name, ".jsonl"), name)

	current := readJournal(t, path)
	require.NotEmpty(t, current)
	assert.Equal(t, int64(1), current[0].Seq, "each file starts its own chain")

	for _, f := range files {
		report, err := VerifyJournal(filepath.Join(archive, f.Name()))
		require.NoError(t, err)
		assert.True(t, report.OK(), f.Name())
	}
}

func TestVerifyJournal_DetectsTampering(t *testing.T) {
	l, path := openJournal(t, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(Event{Type: EventResetApplied, TaskID: "task_1", Data: map[string]any{"index": i}}))
	}
	require.NoError(t, l.Close())

	report, err := VerifyJournal(path)
	require.NoError(t, err)
	assert.Equal(t, IntegrityReport{Entries: 5}, report)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(content), `"index":2`, `"index":7`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	report, err = VerifyJournal(path)
	require.NoError(t, err)
	assert.Equal(t, IntegrityReport{Entries: 2, BrokenAt: 3}, report)
}

func TestVerifyJournal_DetectsRemovedLine(t *testing.T) {
	l, path := openJournal(t, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(Event{Type: EventProfileSaved, EntityID: "prof_a"}))
	}
	require.NoError(t, l.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.SplitAfter(string(content), "\n")
	require.NoError(t, os.WriteFile(path, []byte(lines[0]+lines[2]), 0644))

	report, err := VerifyJournal(path)
	require.NoError(t, err)
	assert.Equal(t, 2, report.BrokenAt)
}

func TestAuditLogger_ReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	first, err := NewAuditLogger(path, 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, first.Record(Event{Type: EventProfileSaved, EntityID: "prof_a"}))
	}
	require.NoError(t, first.Close())
	assert.Error(t, first.Record(Event{Type: EventProfileSaved}), "closed journal refuses records")

	second, err := NewAuditLogger(path, 0)
	require.NoError(t, err)
	require.NoError(t, second.Record(Event{Type: EventProfileSaved, EntityID: "prof_b"}))
	require.NoError(t, second.Close())

	entries := readJournal(t, path)
	require.Len(t, entries, 4)
	assert.Equal(t, int64(4), entries[3].Seq)
	assert.Equal(t, "prof_b", entries[3].EntityID)

	report, err := VerifyJournal(path)
	require.NoError(t, err)
	assert.True(t, report.OK())
}
