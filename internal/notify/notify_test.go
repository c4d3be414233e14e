package notify

import (
	"bytes"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/msageha/autosteer/internal/model"
)

type recorder struct {
	sent []string
	err  error
}

func (r *recorder) deliver(title, message string) error {
	r.sent = append(r.sent, title+"|"+message)
	return r.err
}

func testNotifier(rec *recorder, clock *time.Time) (*Notifier, *bytes.Buffer) {
	var buf bytes.Buffer
	n := NewNotifier(model.NotifyConfig{}, log.New(&buf, "", 0), model.LogLevelDebug)
	if rec != nil {
		n.deliver = rec.deliver
	}
	if clock != nil {
		n.now = func() time.Time { return *clock }
	}
	return n, &buf
}

func TestNotifier_LogsAndDelivers(t *testing.T) {
	rec := &recorder{err: errors.New("no display")}
	n, buf := testNotifier(rec, nil)

	n.Notify("Seek failed", "task_1: backend unavailable")

	assert.Equal(t, []string{"Seek failed|task_1: backend unavailable"}, rec.sent)
	assert.Contains(t, buf.String(), "WARN notify: Seek failed: task_1: backend unavailable")
	assert.Contains(t, buf.String(), "desktop notice failed: no display")
}

func TestNotifier_DisabledOnlyLogs(t *testing.T) {
	n, buf := testNotifier(nil, nil)
	assert.Nil(t, n.deliver)

	n.Notify("Reset failed", "boom")
	assert.Contains(t, buf.String(), "Reset failed: boom")
}

func TestNotifier_SuppressesRepeats(t *testing.T) {
	rec := &recorder{}
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n, buf := testNotifier(rec, &clock)

	n.Notify("Reconnect failed", "gave up after 5 attempts")
	n.Notify("Reconnect failed", "gave up after 5 attempts")
	n.Notify("Save failed", "prof_a: conflict")
	assert.Len(t, rec.sent, 2)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("Reconnect failed: gave up")), "repeats are still logged")

	clock = clock.Add(RepeatWindow)
	n.Notify("Reconnect failed", "gave up after 5 attempts")
	assert.Len(t, rec.sent, 3)
}

func TestAppleScriptString(t *testing.T) {
	tests := []struct{ in, want string }{
		{"hello", "hello"},
		{`say "hello"`, `say \"hello\"`},
		{`path\to\file`, `path\\to\\file`},
		{"two\nlines", "two lines"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, appleScriptString(tt.in), tt.in)
	}
}

func TestSend_WithoutDesktop(t *testing.T) {
	if desktop() != nil {
		t.Skip("host has a desktop notifier")
	}
	assert.ErrorIs(t, Send("title", "message"), ErrNoDesktop)
}
