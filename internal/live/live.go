// Package live keeps one reconnecting event stream open to the backend and
// republishes its pushes on the event bus.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/events"
	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/uds"
)

// Dialer opens a subscribed stream connection.
type Dialer func(ctx context.Context) (net.Conn, error)

// StreamDialer subscribes to backend pushes through an event socket client.
func StreamDialer(client *uds.Client) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		return client.OpenStream(ctx, backend.CmdSubscribe, nil)
	}
}

type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

func ConfigFrom(c model.ChannelConfig) Config {
	return Config{
		InitialDelay: time.Duration(c.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.MaxDelayMs) * time.Millisecond,
		MaxAttempts:  c.MaxAttempts,
	}
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// DelayForAttempt returns the wait before reconnect attempt n (1-indexed):
// InitialDelay doubled per prior attempt, capped at MaxDelay.
func (c Config) DelayForAttempt(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := c.InitialDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Status is a snapshot of the channel.
type Status struct {
	Connected  bool   `json:"connected"`
	Attempts   int    `json:"attempts"`
	GaveUp     bool   `json:"gave_up"`
	LastError  string `json:"last_error,omitempty"`
	Generation uint64 `json:"generation"`
}

// Channel is the live update channel. The daemon owns exactly one.
type Channel struct {
	cfg      Config
	dial     Dialer
	bus      *events.Bus
	schema   *jsonschema.Schema
	logger   *log.Logger
	logLevel model.LogLevel

	mu        sync.Mutex
	writeMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	conn      net.Conn
	gen       uint64
	attempts  int
	gaveUp    bool
	lastErr   error
	timer     *time.Timer
	connected bool
	stopped   bool
	wg        sync.WaitGroup
}

func New(cfg Config, dial Dialer, bus *events.Bus, logger *log.Logger, logLevel model.LogLevel) *Channel {
	return &Channel{
		cfg:      cfg.withDefaults(),
		dial:     dial,
		bus:      bus,
		schema:   eventSchema,
		logger:   logger,
		logLevel: logLevel,
	}
}

// Start opens the first connection in the background. Cancelling ctx has the
// same effect as Stop.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.openLocked()
	context.AfterFunc(c.ctx, c.Stop)
}

// Stop closes the connection and cancels any pending reconnect.
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
	}
	c.resetLocked()
	c.mu.Unlock()
	c.wg.Wait()
}

// Reconnect drops the current connection or pending timer and dials again
// with a fresh attempt count.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.ctx == nil {
		return
	}
	c.resetLocked()
	c.attempts = 0
	c.gaveUp = false
	c.lastErr = nil
	c.log(model.LogLevelInfo, "manual reconnect gen=%d", c.gen+1)
	c.openLocked()
}

// Send writes msg as one frame on the open connection.
func (c *Channel) Send(msg any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return model.NewTransportError("send", model.ErrDisconnected)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := uds.WriteFrame(conn, msg); err != nil {
		return model.NewTransportError("send", err)
	}
	return nil
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Connected:  c.connected,
		Attempts:   c.attempts,
		GaveUp:     c.gaveUp,
		Generation: c.gen,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// resetLocked invalidates the current generation's timer and connection.
func (c *Channel) resetLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.connected {
		c.connected = false
		c.publishConnection(false)
	}
}

func (c *Channel) openLocked() {
	c.gen++
	gen := c.gen
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.connect(gen)
	}()
}

func (c *Channel) connect(gen uint64) {
	conn, err := c.dial(c.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.stopped {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.failLocked(gen, err)
		return
	}

	c.conn = conn
	c.connected = true
	c.attempts = 0
	c.lastErr = nil
	c.log(model.LogLevelInfo, "connected gen=%d", gen)
	c.publishConnection(true)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(gen, conn)
	}()
}

// failLocked records a failed attempt and schedules the next one unless the
// attempt budget is spent.
func (c *Channel) failLocked(gen uint64, err error) {
	c.attempts++
	c.lastErr = err
	if c.attempts >= c.cfg.MaxAttempts {
		c.gaveUp = true
		c.log(model.LogLevelError, "giving up after %d attempts: %v", c.attempts, err)
		return
	}
	c.scheduleLocked(gen, c.cfg.DelayForAttempt(c.attempts))
	c.log(model.LogLevelWarn, "connect attempt %d failed: %v", c.attempts, err)
}

func (c *Channel) scheduleLocked(gen uint64, delay time.Duration) {
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.stopped {
			return
		}
		c.timer = nil
		c.openLocked()
	})
}

func (c *Channel) readLoop(gen uint64, conn net.Conn) {
	for {
		raw, err := uds.ReadRawFrame(conn)
		if err != nil {
			c.dropped(gen, conn, err)
			return
		}
		e, err := c.decode(raw)
		if err != nil {
			c.log(model.LogLevelWarn, "%v", err)
			continue
		}
		c.log(model.LogLevelDebug, "event %s task=%s", e.Type, e.TaskID)
		if c.bus != nil {
			c.bus.Publish(e)
		}
	}
}

func (c *Channel) dropped(gen uint64, conn net.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.conn != conn || c.stopped {
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.connected = false
	c.lastErr = err
	c.log(model.LogLevelWarn, "connection lost: %v", err)
	c.publishConnection(false)
	c.scheduleLocked(gen, c.cfg.DelayForAttempt(1))
}

func (c *Channel) decode(raw []byte) (events.Event, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return events.Event{}, &model.MalformedEventError{Raw: raw, Err: err}
	}
	if err := c.schema.Validate(doc); err != nil {
		return events.Event{}, &model.MalformedEventError{Raw: raw, Err: err}
	}
	var e events.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return events.Event{}, &model.MalformedEventError{Raw: raw, Err: err}
	}
	return e, nil
}

func (c *Channel) publishConnection(connected bool) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{
		Type: events.EventConnectionChanged,
		Data: map[string]any{"connected": connected, "generation": c.gen},
	})
}

func (c *Channel) log(level model.LogLevel, format string, args ...any) {
	if level < c.logLevel || c.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.Printf("%s %s live: %s", time.Now().Format(time.RFC3339), level, msg)
}

var eventSchema = mustCompileSchema(pushEventSchema())

func pushEventSchema() string {
	kinds := make([]string, len(events.PushTypes))
	for i, t := range events.PushTypes {
		kinds[i] = fmt.Sprintf("%q", t)
	}
	return `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": [` + strings.Join(kinds, ", ") + `]},
    "timestamp": {"type": "string", "format": "date-time"},
    "task_id": {"type": "string"},
    "entity_id": {"type": "string"},
    "data": {"type": "object"}
  }
}`
}

func mustCompileSchema(src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource("event.json", strings.NewReader(src)); err != nil {
		panic(fmt.Errorf("event schema: %w", err))
	}
	s, err := c.Compile("event.json")
	if err != nil {
		panic(fmt.Errorf("event schema: %w", err))
	}
	return s
}

// IsMalformed reports whether err is a dropped push payload.
func IsMalformed(err error) bool {
	var me *model.MalformedEventError
	return errors.As(err, &me)
}
