package store

import (
	"database/sql"
	"errors"
	"time"
)

// Outbox entry statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is a message waiting to be posted.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	SessionID    int64
	AttendeeID   int64
	Content      string
	MessageType  string
	Status       string
	Attempts     int
	ErrorMessage string
	ServerMsgID  string
	CreatedAt    time.Time
}

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(e OutboxEntry) error {
	now := time.Now().UnixMilli()
	if e.MessageType == "" {
		e.MessageType = "text"
	}
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, session_id, attendee_id, content, message_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientMsgID, e.SessionID, e.AttendeeID, e.Content, e.MessageType, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' and counts the attempt.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, error_message = '', updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// RequeueOutbox returns an entry to 'queued' after a retryable failure.
func (db *DB) RequeueOutbox(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'queued', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// ResetStaleSending requeues entries left in 'sending' by a previous run.
func (db *DB) ResetStaleSending() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'queued' WHERE status = 'sending'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const outboxColumns = `id, client_msg_id, session_id, attendee_id, content, message_type, status, attempts, error_message, server_msg_id, created_at`

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`SELECT ` + outboxColumns + ` FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetOutbox returns one entry, or nil when clientMsgID is unknown.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	e, err := scanOutbox(db.QueryRow(`SELECT `+outboxColumns+` FROM outbox WHERE client_msg_id = ?`, clientMsgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanOutbox(row interface{ Scan(...any) error }) (OutboxEntry, error) {
	var (
		e       OutboxEntry
		created int64
	)
	err := row.Scan(&e.ID, &e.ClientMsgID, &e.SessionID, &e.AttendeeID, &e.Content, &e.MessageType,
		&e.Status, &e.Attempts, &e.ErrorMessage, &e.ServerMsgID, &created)
	e.CreatedAt = fromMillis(created)
	return e, err
}
