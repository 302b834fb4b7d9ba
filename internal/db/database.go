package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lkj1313/LiveBoard/internal/room"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRoomExists   = errors.New("room name already taken")
	ErrStrokeExists = errors.New("stroke id already used in room")
)

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY between
	// concurrent read-modify-write transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		image TEXT NOT NULL DEFAULT '',
		background_url TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS strokes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		nickname TEXT NOT NULL DEFAULT '',
		points TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_strokes_room_user ON strokes(room_id, user_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_strokes_room_id ON strokes(room_id, id);

	CREATE TABLE IF NOT EXISTS canvas_images (
		room_id TEXT NOT NULL,
		id TEXT NOT NULL,
		url TEXT NOT NULL,
		x REAL NOT NULL DEFAULT 0,
		y REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, id)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		nickname TEXT NOT NULL,
		message TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, seq);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

// CreateRoom inserts r. Room names are unique; a taken name yields ErrRoomExists.
func (d *Database) CreateRoom(ctx context.Context, r room.Room) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO rooms (id, name, image, owner_id) VALUES (?, ?, ?, ?)",
		r.ID, r.Name, r.Image, r.OwnerID,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrRoomExists
	}
	return err
}

const roomColumns = "id, name, image, background_url, owner_id, created_at, updated_at"

func scanRoom(scan func(dest ...any) error) (room.Room, error) {
	var r room.Room
	err := scan(&r.ID, &r.Name, &r.Image, &r.BackgroundURL, &r.OwnerID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// GetRoom returns nil without error when the room does not exist.
func (d *Database) GetRoom(ctx context.Context, id string) (*room.Room, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = ?", id)

	r, err := scanRoom(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *Database) ListRooms(ctx context.Context, limit, offset int) ([]room.Room, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+roomColumns+" FROM rooms ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []room.Room
	for rows.Next() {
		r, err := scanRoom(rows.Scan)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// SetBackground sets or, with an empty url, clears the room background.
func (d *Database) SetBackground(ctx context.Context, id, url string) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE rooms SET background_url = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		url, id,
	)
	if err != nil {
		return err
	}
	return expectRows(res)
}

// Stroke operations

// AppendStroke stores s at the end of the room's stroke order. Stroke ids
// are unique per room; a taken id yields ErrStrokeExists.
func (d *Database) AppendStroke(ctx context.Context, roomID string, s room.Stroke) error {
	return insertStroke(ctx, d.db, roomID, s)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStroke(ctx context.Context, ex execer, roomID string, s room.Stroke) error {
	points, err := json.Marshal(s.Points)
	if err != nil {
		return fmt.Errorf("marshal points: %w", err)
	}
	_, err = ex.ExecContext(ctx,
		"INSERT INTO strokes (id, room_id, user_id, nickname, points) VALUES (?, ?, ?, ?, ?)",
		s.ID, roomID, s.UserID, s.Nickname, string(points),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrStrokeExists
	}
	return err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storedStroke struct {
	seq int64
	room.Stroke
}

func queryStrokes(ctx context.Context, q querier, query string, args ...any) ([]storedStroke, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	strokes := make([]storedStroke, 0)
	for rows.Next() {
		var s storedStroke
		var points string
		if err := rows.Scan(&s.seq, &s.ID, &s.UserID, &s.Nickname, &points); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(points), &s.Points); err != nil {
			return nil, fmt.Errorf("stroke %s: decode points: %w", s.ID, err)
		}
		strokes = append(strokes, s)
	}
	return strokes, rows.Err()
}

func plain(stored []storedStroke) []room.Stroke {
	out := make([]room.Stroke, len(stored))
	for i, s := range stored {
		out[i] = s.Stroke
	}
	return out
}

// ListStrokes returns the room's strokes in insertion order. Unknown rooms
// have no strokes.
func (d *Database) ListStrokes(ctx context.Context, roomID string) ([]room.Stroke, error) {
	stored, err := queryStrokes(ctx, d.db,
		"SELECT seq, id, user_id, nickname, points FROM strokes WHERE room_id = ? ORDER BY seq ASC",
		roomID,
	)
	if err != nil {
		return nil, err
	}
	return plain(stored), nil
}

// EraseStrokes deletes every stroke of userID in roomID that has a point
// within threshold of (x, y) and returns the deleted strokes.
func (d *Database) EraseStrokes(ctx context.Context, roomID, userID string, x, y, threshold float64) ([]room.Stroke, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stored, err := queryStrokes(ctx, tx,
		"SELECT seq, id, user_id, nickname, points FROM strokes WHERE room_id = ? AND user_id = ? ORDER BY seq ASC",
		roomID, userID,
	)
	if err != nil {
		return nil, err
	}

	var removed []room.Stroke
	for _, s := range stored {
		if !room.HitsStroke(s.Stroke, x, y, threshold) {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM strokes WHERE seq = ?", s.seq); err != nil {
			return nil, err
		}
		removed = append(removed, s.Stroke)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

// ClearStrokes deletes all of userID's strokes in roomID.
func (d *Database) ClearStrokes(ctx context.Context, roomID, userID string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM strokes WHERE room_id = ? AND user_id = ?",
		roomID, userID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceUserStrokes drops userID's strokes in roomID, appends strokes in
// their place and returns the merged room list.
func (d *Database) ReplaceUserStrokes(ctx context.Context, roomID, userID string, strokes []room.Stroke) ([]room.Stroke, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM strokes WHERE room_id = ? AND user_id = ?",
		roomID, userID,
	); err != nil {
		return nil, err
	}

	for _, s := range strokes {
		if err := insertStroke(ctx, tx, roomID, s); err != nil {
			return nil, err
		}
	}

	stored, err := queryStrokes(ctx, tx,
		"SELECT seq, id, user_id, nickname, points FROM strokes WHERE room_id = ? ORDER BY seq ASC",
		roomID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return plain(stored), nil
}

// Canvas image operations

// UpsertImage stores img, replacing url and position if the id exists.
func (d *Database) UpsertImage(ctx context.Context, roomID string, img room.CanvasImage) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO canvas_images (room_id, id, url, x, y)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id, id) DO UPDATE SET
			url = excluded.url,
			x = excluded.x,
			y = excluded.y
	`, roomID, img.ID, img.URL, img.X, img.Y)
	return err
}

// MoveImage returns ErrNotFound when the image is not in the room.
func (d *Database) MoveImage(ctx context.Context, roomID, imageID string, x, y float64) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE canvas_images SET x = ?, y = ? WHERE room_id = ? AND id = ?",
		x, y, roomID, imageID,
	)
	if err != nil {
		return err
	}
	return expectRows(res)
}

// DeleteImage is idempotent.
func (d *Database) DeleteImage(ctx context.Context, roomID, imageID string) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM canvas_images WHERE room_id = ? AND id = ?",
		roomID, imageID,
	)
	return err
}

func (d *Database) ListImages(ctx context.Context, roomID string) ([]room.CanvasImage, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, url, x, y FROM canvas_images WHERE room_id = ? ORDER BY created_at ASC, rowid ASC",
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := make([]room.CanvasImage, 0)
	for rows.Next() {
		var img room.CanvasImage
		if err := rows.Scan(&img.ID, &img.URL, &img.X, &img.Y); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// Chat operations

func (d *Database) SaveChatMessage(ctx context.Context, msg room.ChatMessage) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO chat_messages (id, room_id, user_id, nickname, message, sent_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.RoomID, msg.User.UserID, msg.User.Nickname, msg.Message, msg.Timestamp.UnixNano(),
	)
	return err
}

// RecentChatMessages returns up to limit of the newest messages, oldest first.
func (d *Database) RecentChatMessages(ctx context.Context, roomID string, limit int) ([]room.ChatMessage, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, nickname, message, sent_at FROM (
			SELECT seq, id, room_id, user_id, nickname, message, sent_at
			FROM chat_messages
			WHERE room_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]room.ChatMessage, 0)
	for rows.Next() {
		var msg room.ChatMessage
		var sentAt int64
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.User.UserID, &msg.User.Nickname, &msg.Message, &sentAt); err != nil {
			return nil, err
		}
		msg.Timestamp = time.Unix(0, sentAt).UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Returns every room that has chat history
func (d *Database) ChatRoomIDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT DISTINCT room_id FROM chat_messages")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneChatMessages deletes all but the newest keep messages of the room.
func (d *Database) PruneChatMessages(ctx context.Context, roomID string, keep int) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM chat_messages
		WHERE room_id = ? AND seq NOT IN (
			SELECT seq FROM chat_messages
			WHERE room_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
	`, roomID, roomID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats

func (d *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"room_count", "SELECT COUNT(*) FROM rooms"},
		{"stroke_count", "SELECT COUNT(*) FROM strokes"},
		{"image_count", "SELECT COUNT(*) FROM canvas_images"},
		{"chat_count", "SELECT COUNT(*) FROM chat_messages"},
	}

	for _, c := range counts {
		var n int
		if err := d.db.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			return nil, err
		}
		stats[c.key] = n
	}

	return stats, nil
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
