package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Entry is one recorded command dispatch.
type Entry struct {
	ID        int64         `json:"id"`
	Command   string        `json:"command"`
	UserID    string        `json:"user_id,omitempty"`
	GuildID   string        `json:"guild_id,omitempty"`
	Status    string        `json:"status"`
	Latency   time.Duration `json:"latency_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// CommandLog persists dispatch records. Implementations are safe for concurrent use.
type CommandLog interface {
	Record(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Counts returns the number of dispatches per command.
	Counts(ctx context.Context) (map[string]int, error)
	Ping(ctx context.Context) error
}

// PostgresLog stores entries in the command_log table.
type PostgresLog struct{ DB *sql.DB }

func (p *PostgresLog) Record(ctx context.Context, e Entry) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO command_log(command, user_id, guild_id, status, latency_ms) VALUES($1,$2,$3,$4,$5)`,
		e.Command, e.UserID, e.GuildID, e.Status, e.Latency.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert command_log: %w", err)
	}
	return nil
}

func (p *PostgresLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, command, COALESCE(user_id,''), COALESCE(guild_id,''), status, COALESCE(latency_ms,0), created_at
		 FROM command_log ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.Command, &e.UserID, &e.GuildID, &e.Status, &ms, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Latency = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresLog) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT command, COUNT(*) FROM command_log GROUP BY command`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

func (p *PostgresLog) Ping(ctx context.Context) error { return p.DB.PingContext(ctx) }

// MemoryLog keeps the most recent entries in a fixed-size ring. Used when no DB_DSN is configured.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	seq     int64
	counts  map[string]int
}

// NewMemoryLog returns a ring holding at most size entries (default 100).
func NewMemoryLog(size int) *MemoryLog {
	if size <= 0 {
		size = 100
	}
	return &MemoryLog{entries: make([]Entry, size), counts: make(map[string]int)}
}

func (m *MemoryLog) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.ID = m.seq
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.entries[m.next] = e
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	m.counts[e.Command]++
	return nil
}

func (m *MemoryLog) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.next
	if m.full {
		n = len(m.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.entries)) % len(m.entries)
		out = append(out, m.entries[idx])
	}
	return out, nil
}

func (m *MemoryLog) Counts(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryLog) Ping(context.Context) error { return nil }
