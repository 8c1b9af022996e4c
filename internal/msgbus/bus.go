package msgbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/config"
	"github.com/cbriice/claude-swarm-sub001/internal/faults"
)

const (
	kindInbox  = "inbox"
	kindOutbox = "outbox"
)

// Archiver is the optional persistence hook: every sent message is handed
// to it after the queue write succeeds.
type Archiver interface {
	ArchiveMessage(msg *Message) error
}

type SendOpts struct {
	ThreadID         string
	RequiresResponse bool
	Deadline         *time.Time
}

// FileBus is a durable, poll-based message bus backed by one JSON file per
// role and direction under {base}/messages/{inbox|outbox}/{role}.json.
// Writes hold a per-file advisory lock and land via temp-file + rename, so
// lock-free readers never observe a partial queue.
type FileBus struct {
	base    string
	roles   []string
	cfg     config.BusConfig
	holder  string
	archive Archiver
}

// New creates a bus rooted at base for a fixed set of roles. The role list
// is the broadcast fan-out target; roles added later do not receive
// broadcasts.
func New(base string, roles []string, cfg config.BusConfig) (*FileBus, error) {
	for _, kind := range []string{kindInbox, kindOutbox} {
		if err := os.MkdirAll(filepath.Join(base, "messages", kind), 0o755); err != nil {
			return nil, fmt.Errorf("create message dir: %w", err)
		}
	}
	return &FileBus{
		base:   base,
		roles:  append([]string(nil), roles...),
		cfg:    cfg,
		holder: fmt.Sprintf("pid-%d", os.Getpid()),
	}, nil
}

func (b *FileBus) SetArchiver(a Archiver) {
	b.archive = a
}

func (b *FileBus) Roles() []string {
	return append([]string(nil), b.roles...)
}

func (b *FileBus) queuePath(kind, role string) string {
	return filepath.Join(b.base, "messages", kind, role+".json")
}

// Send creates the message, appends it to the sender's outbox and the
// recipient's inbox (every other role's inbox for broadcast). Messages over
// the serialized size cap are rejected before any write.
func (b *FileBus) Send(from, to string, typ MessageType, pri Priority, content Content, opts SendOpts) (*Message, error) {
	msg := newMessage(from, to, typ, pri, content, opts)

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	if b.cfg.MaxMsgBytes > 0 && len(raw) > b.cfg.MaxMsgBytes {
		return nil, faults.New(faults.MessageTooLarge).
			WithComponent("msgbus").
			WithContext(map[string]any{"size": len(raw), "max": b.cfg.MaxMsgBytes, "from": from, "to": to})
	}

	if err := b.appendTo(kindOutbox, from, msg, false); err != nil {
		return nil, fmt.Errorf("append outbox %s: %w", from, err)
	}

	if to == Broadcast {
		for _, role := range b.roles {
			if role == from {
				continue
			}
			if err := b.appendTo(kindInbox, role, msg, true); err != nil {
				return nil, fmt.Errorf("broadcast to %s: %w", role, err)
			}
		}
	} else {
		if err := b.appendTo(kindInbox, to, msg, true); err != nil {
			return nil, fmt.Errorf("append inbox %s: %w", to, err)
		}
	}

	if b.archive != nil {
		if err := b.archive.ArchiveMessage(msg); err != nil {
			slog.Warn("message archive failed", "id", msg.ID, "error", err)
		}
	}

	return msg, nil
}

func (b *FileBus) appendTo(kind, role string, msg *Message, bounded bool) error {
	path := b.queuePath(kind, role)

	release, err := acquireLock(path, b.holder, b.cfg.LockTimeout, b.cfg.LockStale)
	if err != nil {
		return err
	}
	defer release()

	queue := readQueueFile(path)
	queue = append(queue, *msg)

	if bounded && b.cfg.MaxInbox > 0 && len(queue) > b.cfg.MaxInbox {
		dropped := len(queue) - b.cfg.MaxInbox
		queue = queue[dropped:]
		slog.Warn("inbox overflow, oldest messages dropped", "role", role, "dropped", dropped, "max", b.cfg.MaxInbox)
	}

	return writeQueueFile(path, queue)
}

// writeQueueFile writes the whole queue to a temp path and renames it over
// the original. A failed write leaves the original untouched.
func writeQueueFile(path string, queue []Message) error {
	data, err := json.MarshalIndent(queue, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write queue temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename queue: %w", err)
	}
	return nil
}

// readQueueFile parses a queue file leniently: a missing or corrupt file
// yields an empty queue and structurally invalid entries are dropped, so a
// transient write race never blocks a consumer.
func readQueueFile(path string) []Message {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}

	queue := make([]Message, 0, len(entries))
	for _, raw := range entries {
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil || !m.valid() {
			continue
		}
		queue = append(queue, m)
	}
	return queue
}

// ReadInbox returns the role's inbox. Reads are lock-free and fail open.
func (b *FileBus) ReadInbox(role string) []Message {
	return readQueueFile(b.queuePath(kindInbox, role))
}

// ReadOutbox returns the role's outbox. Reads are lock-free and fail open.
func (b *FileBus) ReadOutbox(role string) []Message {
	return readQueueFile(b.queuePath(kindOutbox, role))
}

// PollInbox repeatedly reads the role's inbox until filter matches a
// message or the timeout elapses. Returns nil on timeout.
func (b *FileBus) PollInbox(ctx context.Context, role string, filter func(*Message) bool, interval, timeout time.Duration) *Message {
	if interval <= 0 {
		interval = b.cfg.PollInterval
	}
	deadline := time.Now().Add(timeout)

	for {
		for _, m := range b.ReadInbox(role) {
			if filter(&m) {
				return &m
			}
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// NewOutboxSince returns outbox messages newer than since, widened by the
// configured skew window so a message stamped just before the cutoff by a
// different process is not missed.
func (b *FileBus) NewOutboxSince(role string, since time.Time) []Message {
	cutoff := since.Add(-b.cfg.SkewWindow)
	var fresh []Message
	for _, m := range b.ReadOutbox(role) {
		if m.Timestamp.After(cutoff) {
			fresh = append(fresh, m)
		}
	}
	return fresh
}

// Clear removes all queue files, used by session cleanup.
func (b *FileBus) Clear() error {
	for _, kind := range []string{kindInbox, kindOutbox} {
		dir := filepath.Join(b.base, "messages", kind)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear %s: %w", kind, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("recreate %s: %w", kind, err)
		}
	}
	return nil
}
