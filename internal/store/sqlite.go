package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	github_link  TEXT NOT NULL DEFAULT '',
	live_link    TEXT NOT NULL DEFAULT '',
	tech_stack   TEXT NOT NULL DEFAULT '',
	image_url    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS contact_messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	email       TEXT NOT NULL,
	message     TEXT NOT NULL,
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	is_read     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_contact_ip_created ON contact_messages (ip_address, created_at);
`

// SQLiteStore implements ProjectStore and ContactStore on sqlite. Its
// CountSubmissionsSince method also satisfies the admission layer's
// SubmissionHistory, making the database the durable source of truth for
// the abuse volume rule.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SetClock overrides the timestamp source, for tests.
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, github_link, live_link, tech_stack, image_url, created_at, updated_at
		 FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.GithubLink, &p.LiveLink,
			&p.TechStack, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ProjectByID(ctx context.Context, id int64) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, github_link, live_link, tech_stack, image_url, created_at, updated_at
		 FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Title, &p.Description, &p.GithubLink, &p.LiveLink,
			&p.TechStack, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching project %d: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p *Project) (int64, error) {
	now := s.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (title, description, github_link, live_link, tech_stack, image_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Title, p.Description, p.GithubLink, p.LiveLink, p.TechStack, p.ImageURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("inserting project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *Project) error {
	p.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET title = ?, description = ?, github_link = ?, live_link = ?, tech_stack = ?, image_url = ?, updated_at = ?
		 WHERE id = ?`,
		p.Title, p.Description, p.GithubLink, p.LiveLink, p.TechStack, p.ImageURL, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("updating project %d: %w", p.ID, err)
	}
	return s.requireRow(res)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project %d: %w", id, err)
	}
	return s.requireRow(res)
}

func (s *SQLiteStore) CountProjects(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) InsertContactMessage(ctx context.Context, m *ContactMessage) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_messages (name, email, message, ip_address, user_agent, created_at, is_read)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		m.Name, m.Email, m.Message, m.IPAddress, m.UserAgent, m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("inserting contact message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

func (s *SQLiteStore) ListContactMessages(ctx context.Context) ([]ContactMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, message, ip_address, user_agent, created_at, is_read
		 FROM contact_messages ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing contact messages: %w", err)
	}
	defer rows.Close()

	var out []ContactMessage
	for rows.Next() {
		var m ContactMessage
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Message, &m.IPAddress,
			&m.UserAgent, &m.CreatedAt, &m.IsRead); err != nil {
			return nil, fmt.Errorf("scanning contact message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ContactMessageByID(ctx context.Context, id int64) (*ContactMessage, error) {
	var m ContactMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, message, ip_address, user_agent, created_at, is_read
		 FROM contact_messages WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &m.Email, &m.Message, &m.IPAddress, &m.UserAgent, &m.CreatedAt, &m.IsRead)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching contact message %d: %w", id, err)
	}
	return &m, nil
}

func (s *SQLiteStore) MarkContactMessageRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE contact_messages SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking contact message %d read: %w", id, err)
	}
	return s.requireRow(res)
}

func (s *SQLiteStore) DeleteContactMessage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contact_messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting contact message %d: %w", id, err)
	}
	return s.requireRow(res)
}

func (s *SQLiteStore) CountUnread(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contact_messages WHERE is_read = 0`).Scan(&n)
	return n, err
}

// CountSubmissionsSince counts contact messages from ipAddress with a
// creation time at or after since.
func (s *SQLiteStore) CountSubmissionsSince(ctx context.Context, ipAddress string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contact_messages WHERE ip_address = ? AND created_at >= ?`,
		ipAddress, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting submissions for %s: %w", ipAddress, err)
	}
	return n, nil
}

func (s *SQLiteStore) requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
