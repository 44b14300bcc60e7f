package store

import (
	"database/sql"
	"errors"
	"time"
)

// QueueOutbox records an outgoing message before it is sent. Queuing an
// existing local id resets it to queued and counts another attempt.
func (db *DB) QueueOutbox(localID, chatID, payload string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (local_id, chat_id, payload, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', 1, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			status = 'queued',
			error_message = '',
			attempts = outbox.attempts + 1,
			updated_at = excluded.updated_at`,
		localID, chatID, payload, now, now)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(localID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE local_id = ?`, serverMsgID, now, localID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(localID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE local_id = ?`, errMsg, now, localID)
	return err
}

// GetOutbox returns the entry for localID, or nil when there is none.
func (db *DB) GetOutbox(localID string) (*OutboxEntry, error) {
	row := db.QueryRow(`
		SELECT id, local_id, chat_id, payload, status, error_message, server_msg_id, attempts, created_at, updated_at
		FROM outbox WHERE local_id = ?`, localID)
	var e OutboxEntry
	err := row.Scan(&e.ID, &e.LocalID, &e.ChatID, &e.Payload, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.Attempts, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FailedOutbox returns the failed entries of a chat, oldest first.
func (db *DB) FailedOutbox(chatID string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, local_id, chat_id, payload, status, error_message, server_msg_id, attempts, created_at, updated_at
		FROM outbox WHERE chat_id = ? AND status = 'failed' ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.LocalID, &e.ChatID, &e.Payload, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.Attempts, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
