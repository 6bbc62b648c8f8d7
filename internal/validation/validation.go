package validation

import (
	"fmt"
	"net/http"
	"unicode"
	"unicode/utf8"

	"outbox/internal/constants"
	"outbox/internal/errors"
	"outbox/internal/models"
)

// ValidateID checks an identifier used in API paths and payloads (channel,
// author, message ids).
func ValidateID(id, fieldName string) error {
	if id == "" {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s cannot be empty", fieldName))
	}

	if len(id) > constants.MaxIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, constants.MaxIDLength))
	}

	for _, char := range id {
		if unicode.IsControl(char) || char == '/' {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("%s contains invalid characters", fieldName))
		}
	}
	return nil
}

// ValidateContent checks message text against the length cap. Length is
// measured in runes so multibyte text is not penalized.
func ValidateContent(content string, hasAttachments bool) error {
	if content == "" && !hasAttachments {
		return errors.New(errors.ErrCodeInvalidInput, "message must have content or attachments")
	}

	if utf8.RuneCountInString(content) > constants.DefaultMaxContentLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("content too long (max %d characters)", constants.DefaultMaxContentLength))
	}
	return nil
}

// ValidateAttachment checks one attachment input against size and field
// constraints.
func ValidateAttachment(att models.AttachmentInput, maxSizeMB int) error {
	if att.URI == "" {
		return errors.New(errors.ErrCodeInvalidInput, "attachment uri cannot be empty")
	}
	if att.Filename == "" {
		return errors.New(errors.ErrCodeInvalidInput, "attachment filename cannot be empty")
	}
	if att.Size < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "attachment size cannot be negative")
	}

	if maxSizeMB <= 0 {
		maxSizeMB = constants.DefaultMaxAttachmentSizeMB
	}
	maxBytes := int64(maxSizeMB) * constants.BytesPerMegabyte
	if att.Size > maxBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("attachment too large: %d bytes (max %d MB)", att.Size, maxSizeMB))
	}
	return nil
}

// ValidateEnqueue checks a full enqueue request.
func ValidateEnqueue(opts models.EnqueueOptions, maxAttachmentSizeMB int) error {
	if err := ValidateID(opts.ChannelID, "channel id"); err != nil {
		return err
	}
	if err := ValidateID(opts.AuthorID, "author id"); err != nil {
		return err
	}
	if opts.TargetServerID != "" {
		if err := ValidateID(opts.TargetServerID, "server id"); err != nil {
			return err
		}
	}
	if opts.ReplyTo != nil {
		if err := ValidateID(opts.ReplyTo.MessageID, "reply message id"); err != nil {
			return err
		}
	}

	if err := ValidateContent(opts.Content, len(opts.Attachments) > 0); err != nil {
		return err
	}

	if len(opts.Attachments) > constants.DefaultMaxAttachmentsPerMsg {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("too many attachments (max %d)", constants.DefaultMaxAttachmentsPerMsg))
	}
	for _, att := range opts.Attachments {
		if err := ValidateAttachment(att, maxAttachmentSizeMB); err != nil {
			return err
		}
	}
	return nil
}

// ValidateHTTPRequestSize rejects oversized request bodies before decoding.
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}

// ValidateTimeout bounds configured timeout values.
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}
	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}
	return nil
}

// ValidateNumericRange bounds a configured integer.
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}
	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}
	return nil
}
