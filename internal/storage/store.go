// Package storage persists users, rooms, memberships, and chat messages in
// SQLite. It backs both the REST surface and the chat relay's message store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/parleyhq/parley/internal/storage/migrations"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type User struct {
	ID          int64
	Email       string
	DisplayName string
	IsActive    bool
}

type Room struct {
	ID    int64
	Slug  string
	Title string
}

type Message struct {
	ID        int64
	RoomID    int64
	SenderID  int64
	Content   string
	CreatedAt time.Time
}

// Store is a SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateUser inserts a user record. Returns ErrDuplicate when the email is
// already registered.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, displayName string) (User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, display_name) VALUES (?, ?, ?)`,
		email, passwordHash, displayName,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicate
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("user id: %w", err)
	}
	return User{ID: id, Email: email, DisplayName: displayName, IsActive: true}, nil
}

// UserByEmail returns the user record and its password hash for login.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, string, error) {
	var u User
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, display_name, is_active FROM users WHERE email = ?`,
		email,
	).Scan(&u.ID, &u.Email, &hash, &u.DisplayName, &u.IsActive)
	if err == sql.ErrNoRows {
		return User{}, "", ErrNotFound
	}
	if err != nil {
		return User{}, "", fmt.Errorf("select user by email: %w", err)
	}
	return u, hash, nil
}

// UserByID returns one user record.
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, is_active FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsActive)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// CreateRoom inserts a room and its creator's membership row.
func (s *Store) CreateRoom(ctx context.Context, slug, title string, creatorID int64) (Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO rooms (slug, title) VALUES (?, ?)`, slug, title)
	if err != nil {
		if isUniqueViolation(err) {
			return Room{}, ErrDuplicate
		}
		return Room{}, fmt.Errorf("insert room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Room{}, fmt.Errorf("room id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id) VALUES (?, ?)`, id, creatorID,
	); err != nil {
		return Room{}, fmt.Errorf("insert creator membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Room{}, fmt.Errorf("commit: %w", err)
	}
	return Room{ID: id, Slug: slug, Title: title}, nil
}

// RoomBySlug returns one room record.
func (s *Store) RoomBySlug(ctx context.Context, slug string) (Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slug, title FROM rooms WHERE slug = ?`, slug,
	).Scan(&r.ID, &r.Slug, &r.Title)
	if err == sql.ErrNoRows {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("select room: %w", err)
	}
	return r, nil
}

// AddRoomMember records a membership; adding an existing member is a no-op.
func (s *Store) AddRoomMember(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// LookupRoom resolves a slug to a room id. Satisfies the chat relay's
// RoomLookup interface.
func (s *Store) LookupRoom(ctx context.Context, slug string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM rooms WHERE slug = ?`, slug).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup room: %w", err)
	}
	return id, nil
}

// StoreMessage durably persists one chat message and returns the assigned id
// and timestamp. Satisfies the chat relay's MessageStore interface.
func (s *Store) StoreMessage(ctx context.Context, roomID, senderID int64, content string) (int64, time.Time, error) {
	createdAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (room_id, sender_id, content, created_at) VALUES (?, ?, ?, ?)`,
		roomID, senderID, content, createdAt.UnixMilli(),
	)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("message id: %w", err)
	}
	return id, time.UnixMilli(createdAt.UnixMilli()).UTC(), nil
}

// MessagesByRoom returns the most recent messages in a room, oldest first.
func (s *Store) MessagesByRoom(ctx context.Context, roomID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_id, content, created_at
		 FROM (SELECT * FROM messages WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT ?)
		 ORDER BY created_at ASC, id ASC`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var millis int64
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &millis); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(millis).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
