package database

// Queued message queries
const (
	upsertMessageQuery = `
		INSERT INTO queued_messages (
			local_id, server_id, content, channel_id, author_id,
			target_server_id, reply_to_id, reply_to_preview, attachments,
			status, retry_count, max_retries, failure_reason, error_message,
			queued_at, last_attempt_at, next_retry_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id = excluded.server_id,
			content = excluded.content,
			attachments = excluded.attachments,
			status = excluded.status,
			retry_count = excluded.retry_count,
			failure_reason = excluded.failure_reason,
			error_message = excluded.error_message,
			last_attempt_at = excluded.last_attempt_at,
			next_retry_at = excluded.next_retry_at,
			updated_at = CURRENT_TIMESTAMP
	`

	deleteMessageQuery = `
		DELETE FROM queued_messages WHERE local_id = ?
	`

	deleteMessagesByStatusQuery = `
		DELETE FROM queued_messages WHERE status = ?
	`

	deleteAllMessagesQuery = `
		DELETE FROM queued_messages
	`

	restoreSendingQuery = `
		UPDATE queued_messages SET status = 'pending', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'sending'
	`

	selectQueueQuery = `
		SELECT local_id, server_id, content, channel_id, author_id,
			   target_server_id, reply_to_id, reply_to_preview, attachments,
			   status, retry_count, max_retries, failure_reason, error_message,
			   queued_at, last_attempt_at, next_retry_at
		FROM queued_messages
		ORDER BY queued_at ASC
	`
)
