package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/confchat/internal/model"
)

// ReplaceContacts stores the contact list of a conference, replacing the
// previous snapshot in a single transaction.
func (db *DB) ReplaceContacts(conferenceID int64, contacts []model.Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts WHERE conference_id = ?`, conferenceID); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (conference_id, id, name, email, company, position, avatar, last_message, unread_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conference_id, id) DO UPDATE SET
				name = excluded.name,
				email = excluded.email,
				last_message = excluded.last_message,
				unread_count = excluded.unread_count,
				updated_at = excluded.updated_at`,
			conferenceID, c.ID, c.Name, c.Email, c.Company, c.Position, c.Avatar, c.LastMessage, c.UnreadCount, now); err != nil {
			return fmt.Errorf("insert contact %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListContacts returns the cached contacts of a conference ordered by name.
func (db *DB) ListContacts(conferenceID int64) ([]model.Contact, error) {
	rows, err := db.Query(`
		SELECT id, name, email, company, position, avatar, last_message, unread_count
		FROM contacts WHERE conference_id = ?
		ORDER BY name COLLATE NOCASE, id`, conferenceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []model.Contact
	for rows.Next() {
		c := model.Contact{ConferenceID: conferenceID}
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Company, &c.Position, &c.Avatar, &c.LastMessage, &c.UnreadCount); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
