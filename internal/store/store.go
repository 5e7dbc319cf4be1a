// Package store is the embedded persistence layer. One SQLite database file
// holds users, rooms, messages, and bans; all access goes through a single
// mutex so the pure-Go driver never sees concurrent writers.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"chatserver/internal/validator"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned on unique-constraint conflicts surfaced
	// to callers (duplicate usernames, duplicate room IDs).
	ErrAlreadyExists = errors.New("store: already exists")
)

// Room is a persisted room record.
type Room struct {
	RoomID        string
	IsPrivate     bool
	OwnerUsername string
	Password      string // plaintext; GETPASSWORD echoes it verbatim
	CreatedAt     time.Time
}

// Message is a persisted chat or private message.
type Message struct {
	ID                int64
	RoomID            string
	SenderUsername    string
	Content           string
	IsPrivate         bool
	RecipientUsername string
	Timestamp         time.Time
}

// User is a persisted account record.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	LastSeen     time.Time
}

// Store wraps the SQLite handle.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT UNIQUE NOT NULL,
		is_private INTEGER NOT NULL DEFAULT 0,
		owner_username TEXT NOT NULL,
		password TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		sender_username TEXT NOT NULL,
		content TEXT NOT NULL,
		is_private INTEGER NOT NULL DEFAULT 0,
		recipient_username TEXT NOT NULL DEFAULT '',
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS bans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		username TEXT NOT NULL,
		banned_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(room_id, username)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_bans_room_id ON bans(room_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_room_id ON rooms(room_id)`,
}

// Open opens (creating if needed) the database at path and runs migrations.
// Pass ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Serialize through one connection; the mutex does the real locking.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[store] database ready at %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// --- rooms ---

// CreateRoom persists a new room record.
func (s *Store) CreateRoom(roomID string, isPrivate bool, owner, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO rooms (room_id, is_private, owner_username, password) VALUES (?, ?, ?, ?)`,
		roomID, boolToInt(isPrivate), owner, password,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// GetRoom fetches a room by its six-digit ID.
func (s *Store) GetRoom(roomID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Room
	var private int
	err := s.db.QueryRow(
		`SELECT room_id, is_private, owner_username, password, created_at FROM rooms WHERE room_id = ?`,
		roomID,
	).Scan(&r.RoomID, &private, &r.OwnerUsername, &r.Password, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	r.IsPrivate = private != 0
	return &r, nil
}

// RoomExists reports whether the room ID is taken.
func (s *Store) RoomExists(roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM rooms WHERE room_id = ?`, roomID).Scan(&n); err != nil {
		return false, fmt.Errorf("room exists: %w", err)
	}
	return n > 0, nil
}

// ListRooms returns all persisted rooms ordered by ID.
func (s *Store) ListRooms() ([]*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT room_id, is_private, owner_username, password, created_at FROM rooms ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []*Room
	for rows.Next() {
		var r Room
		var private int
		if err := rows.Scan(&r.RoomID, &private, &r.OwnerUsername, &r.Password, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		r.IsPrivate = private != 0
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpdateRoomPassword replaces a room's password.
func (s *Store) UpdateRoomPassword(roomID, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE rooms SET password = ? WHERE room_id = ?`, password, roomID)
	if err != nil {
		return fmt.Errorf("update room password: %w", err)
	}
	return requireRow(res)
}

// UpdateRoomOwner records an ownership transfer.
func (s *Store) UpdateRoomOwner(roomID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE rooms SET owner_username = ? WHERE room_id = ?`, owner, roomID)
	if err != nil {
		return fmt.Errorf("update room owner: %w", err)
	}
	return requireRow(res)
}

// DeleteRoom removes a room together with its messages and bans, atomically.
func (s *Store) DeleteRoom(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete room: %w", err)
	}
	for _, q := range []string{
		`DELETE FROM messages WHERE room_id = ?`,
		`DELETE FROM bans WHERE room_id = ?`,
		`DELETE FROM rooms WHERE room_id = ?`,
	} {
		if _, err := tx.Exec(q, roomID); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete room: %w", err)
		}
	}
	return tx.Commit()
}

// --- messages ---

// SaveMessage persists a message. Private messages carry a recipient and are
// excluded from room history reads.
func (s *Store) SaveMessage(m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO messages (room_id, sender_username, content, is_private, recipient_username) VALUES (?, ?, ?, ?, ?)`,
		m.RoomID, m.SenderUsername, m.Content, boolToInt(m.IsPrivate), m.RecipientUsername,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// GetMessageHistory returns the most recent public messages of a room in
// chronological order, at most limit entries.
func (s *Store) GetMessageHistory(roomID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, room_id, sender_username, content, timestamp
		 FROM messages
		 WHERE room_id = ? AND is_private = 0
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get message history: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderUsername, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest-first from the query; callers want oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetPrivateMessages returns private messages sent to or from a user in a
// room, oldest first.
func (s *Store) GetPrivateMessages(roomID, username string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, room_id, sender_username, content, recipient_username, timestamp
		 FROM messages
		 WHERE room_id = ? AND is_private = 1 AND (sender_username = ? OR recipient_username = ?)
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		roomID, username, username, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get private messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m := Message{IsPrivate: true}
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderUsername, &m.Content, &m.RecipientUsername, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan private message: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// --- bans ---

// AddBan records a room ban. Banning twice is a no-op.
func (s *Store) AddBan(roomID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR IGNORE INTO bans (room_id, username) VALUES (?, ?)`, roomID, username)
	if err != nil {
		return fmt.Errorf("add ban: %w", err)
	}
	return nil
}

// IsBanned reports whether a username is banned from a room.
func (s *Store) IsBanned(roomID, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM bans WHERE room_id = ? AND username = ?`, roomID, username).Scan(&n); err != nil {
		return false, fmt.Errorf("is banned: %w", err)
	}
	return n > 0, nil
}

// RemoveBan lifts a ban; safe to call when no ban exists.
func (s *Store) RemoveBan(roomID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM bans WHERE room_id = ? AND username = ?`, roomID, username); err != nil {
		return fmt.Errorf("remove ban: %w", err)
	}
	return nil
}

// GetBannedUsers lists usernames banned from a room.
func (s *Store) GetBannedUsers(roomID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT username FROM bans WHERE room_id = ? ORDER BY username`, roomID)
	if err != nil {
		return nil, fmt.Errorf("get banned users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan banned user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- users ---

// CreateUser persists an account with an already-hashed password.
func (s *Store) CreateUser(username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO users (username, password_hash) VALUES (?, ?)`, username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser fetches an account by username.
func (s *Store) GetUser(username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var u User
	err := s.db.QueryRow(
		`SELECT username, password_hash, created_at, last_seen FROM users WHERE username = ?`,
		username,
	).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt, &u.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// AuthenticateUser checks a candidate password against the stored bcrypt
// hash. An unknown username authenticates as false without error.
func (s *Store) AuthenticateUser(username, password string) (bool, error) {
	u, err := s.GetUser(username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return validator.CheckPassword(u.PasswordHash, password), nil
}

// UserExists reports whether the username is registered.
func (s *Store) UserExists(username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM users WHERE username = ?`, username).Scan(&n); err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return n > 0, nil
}

// UpdateLastSeen bumps the account's last_seen timestamp to now.
func (s *Store) UpdateLastSeen(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE users SET last_seen = CURRENT_TIMESTAMP WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces SQLITE_CONSTRAINT_UNIQUE in the error text
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
