package store

import (
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/confchat/internal/model"
)

const upsertMessageSQL = `
	INSERT INTO messages (session_id, msg_id, sender_id, attendee_id, content, message_type, is_read, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, msg_id) DO UPDATE SET
		content = excluded.content,
		message_type = excluded.message_type,
		is_read = MAX(messages.is_read, excluded.is_read),
		timestamp = CASE WHEN excluded.timestamp != 0 THEN excluded.timestamp ELSE messages.timestamp END`

func messageArgs(m model.Message, now int64) []any {
	return []any{m.SessionID, m.ID, m.SenderID, m.AttendeeID, m.Content, string(m.Type), m.IsRead, toMillis(m.Timestamp), now}
}

// UpsertMessage inserts or updates a message (idempotent on session_id + msg_id).
// A read flag, once set, is never cleared.
func (db *DB) UpsertMessage(m model.Message) error {
	if m.ID == "" {
		return fmt.Errorf("upsert message: empty id")
	}
	_, err := db.Exec(upsertMessageSQL, messageArgs(m, time.Now().UnixMilli())...)
	return err
}

// BulkUpsertMessages upserts a history batch in a single transaction.
// Messages without an id are skipped.
func (db *DB) BulkUpsertMessages(msgs []model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(upsertMessageSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, err := stmt.Exec(messageArgs(m, now)...); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns up to limit messages of a session older than before
// (all when before is zero), oldest first.
func (db *DB) ListMessages(sessionID int64, before time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeTs := toMillis(before)
	if beforeTs == 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT session_id, msg_id, sender_id, attendee_id, content, message_type, is_read, timestamp
		FROM messages
		WHERE session_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, sessionID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// SearchMessages returns messages whose content contains query,
// newest first. sessionID zero searches every session.
func (db *DB) SearchMessages(query string, sessionID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT session_id, msg_id, sender_id, attendee_id, content, message_type, is_read, timestamp
		FROM messages
		WHERE content LIKE '%' || ? || '%' ESCAPE '\'`
	args := []any{escapeLike(query)}
	if sessionID != 0 {
		q += " AND session_id = ?"
		args = append(args, sessionID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MarkMessageRead flags every cached copy of msgID as read.
func (db *DB) MarkMessageRead(msgID string) error {
	_, err := db.Exec(`UPDATE messages SET is_read = 1 WHERE msg_id = ?`, msgID)
	return err
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanMessages(rows rowScanner) ([]model.Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var (
			m       model.Message
			msgType string
			ts      int64
		)
		if err := rows.Scan(&m.SessionID, &m.ID, &m.SenderID, &m.AttendeeID, &m.Content, &msgType, &m.IsRead, &ts); err != nil {
			return nil, err
		}
		m.Type = model.MessageType(msgType)
		m.Timestamp = fromMillis(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
