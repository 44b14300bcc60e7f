package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

const upsertMessageSQL = `
	INSERT INTO messages (chat_id, msg_id, sender_id, kind, body, attachments, reply_to_id, reactions, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_id, msg_id) DO UPDATE SET
		body = excluded.body,
		attachments = excluded.attachments,
		reactions = excluded.reactions,
		status = excluded.status`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertMessage inserts or updates a reconciled message (idempotent on
// chat_id + msg_id). Optimistic entries without a permanent id are skipped.
func (db *DB) UpsertMessage(m model.Message) error {
	return upsertMessage(db, m)
}

func upsertMessage(ex execer, m model.Message) error {
	if m.ID == "" || m.ChatID == "" {
		return nil
	}
	atts, err := json.Marshal(nonNil(m.Content.Attachments))
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	reactions, err := json.Marshal(nonNil(m.Reactions))
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}
	status := m.Status
	if status == "" {
		status = model.StatusSent
	}
	kind := m.Kind
	if kind == "" {
		kind = model.KindText
	}
	_, err = ex.Exec(upsertMessageSQL,
		string(m.ChatID), string(m.ID), string(m.SenderID), string(kind), m.Content.Text,
		string(atts), string(m.ReplyToID), string(reactions), string(status), m.CreatedAt.UnixMilli())
	return err
}

// SaveHistory upserts a page of history in one transaction.
func (db *DB) SaveHistory(msgs []model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		if err := upsertMessage(tx, m); err != nil {
			return fmt.Errorf("save message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns the latest limit messages of a chat in receipt order.
func (db *DB) ListMessages(chatID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT chat_id, msg_id, sender_id, kind, body, attachments, reply_to_id, reactions, status, created_at
		FROM (
			SELECT * FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var (
			m                     model.Message
			chat, id, sender      string
			kind, status, replyTo string
			atts, reactions       string
			created               int64
		)
		if err := rows.Scan(&chat, &id, &sender, &kind, &m.Content.Text, &atts, &replyTo, &reactions, &status, &created); err != nil {
			return nil, err
		}
		m.ChatID, m.ID, m.SenderID, m.ReplyToID = model.ID(chat), model.ID(id), model.ID(sender), model.ID(replyTo)
		k, err := model.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", id, err)
		}
		m.Kind, m.Status = k, model.Status(status)
		if created > 0 {
			m.CreatedAt = time.UnixMilli(created)
		}
		if err := json.Unmarshal([]byte(atts), &m.Content.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", id, err)
		}
		if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
			return nil, fmt.Errorf("decode reactions of %s: %w", id, err)
		}
		if len(m.Content.Attachments) == 0 {
			m.Content.Attachments = nil
		}
		if len(m.Reactions) == 0 {
			m.Reactions = nil
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
