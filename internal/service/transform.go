package service

import (
	"regexp"
	"strings"

	"github.com/vipul43/mailsync/internal/models"
)

var (
	fromPattern    = regexp.MustCompile(`^\s*(.*?)\s*<([^<>]+)>\s*$`)
	addressPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// TransformMessage maps a provider message onto the stored message row.
func TransformMessage(accountID string, msg *ProviderMessage) models.Message {
	out := models.Message{
		AccountID:         accountID,
		ProviderMessageID: msg.ID,
		ProviderThreadID:  msg.ThreadID,
		Snippet:           msg.Snippet,
		Labels:            models.StringList(append([]string{}, msg.LabelIDs...)),
		Attachments:       models.AttachmentList{},
	}

	if !msg.InternalDate.IsZero() {
		date := msg.InternalDate.UTC()
		out.InternalDate = &date
	}

	out.IsRead = !out.HasLabel(models.LabelUnread)
	out.IsStarred = out.HasLabel(models.LabelStarred)
	out.IsArchived = !out.HasLabel(models.LabelInbox)

	if msg.Payload == nil {
		out.ToAddresses = models.StringList{}
		out.CcAddresses = models.StringList{}
		out.BccAddresses = models.StringList{}
		return out
	}

	headers := msg.Payload.Headers
	out.Subject = headerValue(headers, "Subject")
	out.FromName, out.FromAddress = parseFrom(headerValue(headers, "From"))
	out.ToAddresses = extractAddresses(headerValue(headers, "To"))
	out.CcAddresses = extractAddresses(headerValue(headers, "Cc"))
	out.BccAddresses = extractAddresses(headerValue(headers, "Bcc"))
	out.BodyText, out.BodyHTML = extractBodies(msg.Payload)
	collectAttachments(msg.Payload, &out.Attachments)

	return out
}

// headerValue returns the first header with the given name, ignoring case.
func headerValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// parseFrom splits `Name <address>`. Without angle brackets the raw value is used for both.
func parseFrom(raw string) (name, address string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	m := fromPattern.FindStringSubmatch(raw)
	if m == nil {
		return raw, raw
	}

	name = strings.Trim(strings.TrimSpace(m[1]), `"'`)
	address = strings.TrimSpace(m[2])
	if name == "" {
		name = address
	}
	return name, address
}

func extractAddresses(raw string) models.StringList {
	matches := addressPattern.FindAllString(raw, -1)
	if matches == nil {
		return models.StringList{}
	}
	return models.StringList(matches)
}

// extractBodies uses a single-part payload as the body directly. For multipart payloads it picks
// the first text/plain and text/html parts among the top-level parts and the direct children of
// nested multiparts. Deeper levels are not searched.
func extractBodies(payload *MessagePart) (text, html string) {
	if len(payload.Parts) == 0 {
		if payload.MimeType == "text/html" {
			return "", string(payload.Data)
		}
		return string(payload.Data), ""
	}

	take := func(part *MessagePart) {
		if len(part.Data) == 0 || part.Filename != "" {
			return
		}
		switch part.MimeType {
		case "text/plain":
			if text == "" {
				text = string(part.Data)
			}
		case "text/html":
			if html == "" {
				html = string(part.Data)
			}
		}
	}

	for _, part := range payload.Parts {
		take(part)
		for _, child := range part.Parts {
			take(child)
		}
	}
	return text, html
}

func collectAttachments(part *MessagePart, out *models.AttachmentList) {
	if part.Filename != "" {
		*out = append(*out, models.Attachment{
			Filename:     part.Filename,
			MimeType:     part.MimeType,
			Size:         part.Size,
			AttachmentID: part.AttachmentID,
		})
	}
	for _, child := range part.Parts {
		collectAttachments(child, out)
	}
}
