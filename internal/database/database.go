package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"outbox/internal/migrations"
	"outbox/internal/models"
	"outbox/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the durable snapshot of the message queue, one row per queued
// message. The in-memory store is the source of truth at runtime; rows here
// exist so the queue survives process restarts.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// UpsertMessage writes the current state of a queued message.
func (d *Database) UpsertMessage(ctx context.Context, m *models.QueuedMessage) error {
	content, err := d.encryptor.EncryptIfEnabled(m.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt content: %w", err)
	}

	var attachments *string
	if len(m.Attachments) > 0 {
		raw, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("failed to marshal attachments: %w", err)
		}
		s := string(raw)
		attachments = &s
	}

	var replyToID, replyToPreview *string
	if m.ReplyTo != nil {
		replyToID = &m.ReplyTo.MessageID
		replyToPreview = &m.ReplyTo.Preview
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, upsertMessageQuery,
			m.LocalID,
			nullableString(m.ServerID),
			content,
			m.ChannelID,
			m.AuthorID,
			nullableString(m.TargetServerID),
			replyToID,
			replyToPreview,
			attachments,
			string(m.Status),
			m.RetryCount,
			m.MaxRetries,
			nullableString(string(m.FailureReason)),
			nullableString(m.ErrorMessage),
			m.QueuedAt,
			m.LastAttemptAt,
			m.NextRetryAt,
		)
		return err
	}, "upsert queued message")
}

func (d *Database) DeleteMessage(ctx context.Context, localID string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, deleteMessageQuery, localID)
		return err
	}, "delete queued message")
}

func (d *Database) DeleteMessagesByStatus(ctx context.Context, status models.MessageStatus) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, deleteMessagesByStatusQuery, string(status))
		return err
	}, "delete queued messages by status")
}

func (d *Database) DeleteAllMessages(ctx context.Context) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, deleteAllMessagesQuery)
		return err
	}, "delete all queued messages")
}

// LoadQueue restores the persisted queue. Terminal "sent" rows are pruned and
// rows frozen mid-"sending" are restored as "pending" so an unconfirmed send
// is re-attempted rather than silently dropped.
func (d *Database) LoadQueue(ctx context.Context) ([]*models.QueuedMessage, error) {
	if _, err := d.db.ExecContext(ctx, deleteMessagesByStatusQuery, string(models.MessageStatusSent)); err != nil {
		return nil, fmt.Errorf("failed to prune sent messages: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, restoreSendingQuery); err != nil {
		return nil, fmt.Errorf("failed to restore in-flight messages: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, selectQueueQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	defer rows.Close()

	var queue []*models.QueuedMessage
	for rows.Next() {
		m, err := d.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		queue = append(queue, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue rows: %w", err)
	}

	return queue, nil
}

func (d *Database) scanMessage(rows *sql.Rows) (*models.QueuedMessage, error) {
	var (
		m                models.QueuedMessage
		serverID         sql.NullString
		targetServerID   sql.NullString
		replyToID        sql.NullString
		replyToPreview   sql.NullString
		attachments      sql.NullString
		failureReason    sql.NullString
		errorMessage     sql.NullString
		status           string
		encryptedContent string
	)

	err := rows.Scan(
		&m.LocalID,
		&serverID,
		&encryptedContent,
		&m.ChannelID,
		&m.AuthorID,
		&targetServerID,
		&replyToID,
		&replyToPreview,
		&attachments,
		&status,
		&m.RetryCount,
		&m.MaxRetries,
		&failureReason,
		&errorMessage,
		&m.QueuedAt,
		&m.LastAttemptAt,
		&m.NextRetryAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queued message: %w", err)
	}

	m.Content, err = d.encryptor.DecryptIfEnabled(encryptedContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt content: %w", err)
	}

	m.Status = models.MessageStatus(status)
	m.ServerID = serverID.String
	m.TargetServerID = targetServerID.String
	m.FailureReason = models.FailureReason(failureReason.String)
	m.ErrorMessage = errorMessage.String

	if replyToID.Valid {
		m.ReplyTo = &models.ReplyReference{
			MessageID: replyToID.String,
			Preview:   replyToPreview.String,
		}
	}

	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
		}
	}

	return &m, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
