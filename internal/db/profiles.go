package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/energizer-project/rconsole/internal/rcon"
)

// ErrProfileNotFound is returned when no profile has the requested name.
var ErrProfileNotFound = errors.New("db: profile not found")

// Profile is a named set of connection options.
type Profile struct {
	Name        string     `json:"name"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	Password    string     `json:"-"`
	TimeoutMs   int        `json:"timeout_ms"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// Options converts the profile into client options.
func (p Profile) Options() rcon.Options {
	return rcon.Options{
		Host:     p.Host,
		Port:     p.Port,
		Password: p.Password,
		Timeout:  time.Duration(p.TimeoutMs) * time.Millisecond,
	}
}

var profileMigrations = []migration{
	{1, `
		CREATE TABLE profiles (
			name TEXT PRIMARY KEY,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			password TEXT NOT NULL DEFAULT '',
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`},
	{2, `ALTER TABLE profiles ADD COLUMN description TEXT NOT NULL DEFAULT ''`},
	{3, `ALTER TABLE profiles ADD COLUMN last_used_at DATETIME`},
}

// ProfileStore persists connection profiles.
type ProfileStore struct {
	db  *Database
	now func() time.Time
}

// NewProfileStore opens the database at dbPath and brings its schema up to date.
func NewProfileStore(ctx context.Context, dbPath string) (*ProfileStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	if err := database.migrate(ctx, profileMigrations); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate profile database: %w", err)
	}

	return &ProfileStore{db: database, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *ProfileStore) Close() error {
	return s.db.Close()
}

// Save creates or replaces a profile. CreatedAt is kept on replace.
func (s *ProfileStore) Save(ctx context.Context, p Profile) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Host == "" || p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("profile %q: %w", p.Name, rcon.ErrInvalidOptions)
	}

	now := s.now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (name, host, port, password, timeout_ms, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			password = excluded.password,
			timeout_ms = excluded.timeout_ms,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		p.Name, p.Host, p.Port, p.Password, p.TimeoutMs, p.Description, now, now)
	if err != nil {
		return fmt.Errorf("failed to save profile %q: %w", p.Name, err)
	}
	return nil
}

const profileColumns = `name, host, port, password, timeout_ms, description, created_at, updated_at, last_used_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row scanner) (*Profile, error) {
	var p Profile
	var lastUsed sql.NullTime
	if err := row.Scan(&p.Name, &p.Host, &p.Port, &p.Password, &p.TimeoutMs, &p.Description,
		&p.CreatedAt, &p.UpdatedAt, &lastUsed); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		p.LastUsedAt = &t
	}
	return &p, nil
}

// Get returns the named profile.
func (s *ProfileStore) Get(ctx context.Context, name string) (*Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE name = ?`, name)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %q: %w", name, err)
	}
	return p, nil
}

// List returns every profile ordered by name.
func (s *ProfileStore) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Delete removes the named profile.
func (s *ProfileStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.Exec(ctx, `DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete profile %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return nil
}

// Touch records that the named profile was just used to connect.
func (s *ProfileStore) Touch(ctx context.Context, name string) error {
	res, err := s.db.Exec(ctx, `UPDATE profiles SET last_used_at = ? WHERE name = ?`, s.now().UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update profile %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return nil
}
