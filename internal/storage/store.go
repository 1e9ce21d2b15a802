package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Roles stored for members. The first member of a room becomes its admin.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleMember = "member"
)

// Store wraps the SQLite handle and exposes helper methods used by the server.
type Store struct {
	db *sql.DB
}

// Member represents a row in the members table.
type Member struct {
	ID       string
	RoomID   string
	Name     string
	Role     string
	JoinedAt time.Time
}

// Message is one persisted chat line.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	Username  string
	Body      string
	CreatedAt time.Time
}

// ErrEmptyBody is returned when appending a message with no text.
var ErrEmptyBody = errors.New("message body is empty")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "roomchat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS members (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			joined_at DATETIME NOT NULL,
			UNIQUE (room_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_room_id ON messages(room_id, id);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertMember returns the member called name in a room, adding them when
// they are new. The first member of a room is its admin.
func (s *Store) UpsertMember(ctx context.Context, roomID, name string) (Member, bool, error) {
	if existing, err := s.getMember(ctx, roomID, name); err != nil || existing != nil {
		if existing != nil {
			return *existing, false, nil
		}
		return Member{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Member{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var count int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM members WHERE room_id = ?`, roomID).Scan(&count); err != nil {
		return Member{}, false, err
	}
	member := Member{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		Name:     name,
		Role:     RoleMember,
		JoinedAt: time.Now().UTC(),
	}
	if count == 0 {
		member.Role = RoleAdmin
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO members(id, room_id, name, role, joined_at) VALUES(?, ?, ?, ?, ?)`,
		member.ID, member.RoomID, member.Name, member.Role, member.JoinedAt); err != nil {
		if isConstraintError(err) {
			_ = tx.Rollback()
			err = nil
			existing, getErr := s.getMember(ctx, roomID, name)
			if getErr != nil || existing == nil {
				return Member{}, false, fmt.Errorf("member %q vanished after conflict: %v", name, getErr)
			}
			return *existing, false, nil
		}
		return Member{}, false, err
	}
	if err = tx.Commit(); err != nil {
		return Member{}, false, err
	}
	return member, true, nil
}

func (s *Store) getMember(ctx context.Context, roomID, name string) (*Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, room_id, name, role, joined_at FROM members WHERE room_id = ? AND name = ?`, roomID, name)
	var m Member
	if err := row.Scan(&m.ID, &m.RoomID, &m.Name, &m.Role, &m.JoinedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// SetRole changes a member's role. sql.ErrNoRows is returned for unknown members.
func (s *Store) SetRole(ctx context.Context, roomID, name, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE members SET role = ? WHERE room_id = ? AND name = ?`, role, roomID, name)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListMembers returns a room's members in join order.
func (s *Store) ListMembers(ctx context.Context, roomID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, name, role, joined_at
		FROM members
		WHERE room_id = ?
		ORDER BY joined_at ASC, name ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Name, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AppendMessage persists a chat line and fills in its ID and CreatedAt.
func (s *Store) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if strings.TrimSpace(msg.Body) == "" {
		return Message{}, ErrEmptyBody
	}
	msg.ID = ulid.Make().String()
	msg.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages(id, room_id, user_id, username, body, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.UserID, msg.Username, msg.Body, msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// RecentMessages returns up to limit of a room's latest messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, username, body, created_at FROM (
			SELECT * FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
