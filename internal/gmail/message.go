package gmail

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/gmail/v1"

	"github.com/vipul43/mailsync/internal/service"
)

// convertMessage maps a full-format Gmail message onto the provider-neutral shape.
func convertMessage(msg *gmail.Message) *service.ProviderMessage {
	out := &service.ProviderMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		LabelIDs: msg.LabelIds,
	}
	if msg.HistoryId != 0 {
		out.HistoryID = strconv.FormatUint(msg.HistoryId, 10)
	}

	// internalDate is milliseconds since epoch; the Date header is only a fallback.
	if msg.InternalDate > 0 {
		out.InternalDate = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload != nil {
		out.Payload = convertPart(msg.Payload)
		if out.InternalDate.IsZero() {
			for _, h := range msg.Payload.Headers {
				if !strings.EqualFold(h.Name, "Date") {
					continue
				}
				parsed, err := parseEmailDate(h.Value)
				if err != nil {
					log.Debug().Str("message_id", msg.Id).Str("date", h.Value).Msg("unparseable Date header")
					break
				}
				out.InternalDate = parsed.UTC()
				break
			}
		}
	}
	return out
}

func convertPart(part *gmail.MessagePart) *service.MessagePart {
	out := &service.MessagePart{
		PartID:   part.PartId,
		MimeType: part.MimeType,
		Filename: part.Filename,
	}

	for _, h := range part.Headers {
		out.Headers = append(out.Headers, service.Header{Name: h.Name, Value: h.Value})
	}

	if part.Body != nil {
		out.Size = part.Body.Size
		out.AttachmentID = part.Body.AttachmentId
		if part.Body.Data != "" {
			out.Data = decodeBody(part.Body.Data)
		}
	}

	for _, child := range part.Parts {
		out.Parts = append(out.Parts, convertPart(child))
	}
	return out
}

// decodeBody decodes Gmail's base64url body data. Padding is not always present, and data that
// decodes under neither form is kept as-is.
func decodeBody(data string) []byte {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "=")); err == nil {
		return decoded
	}
	return []byte(data)
}

// parseEmailDate parses various email date formats
func parseEmailDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC3339,
	}

	dateStr = strings.TrimSpace(dateStr)

	// Gmail sometimes appends the zone name in parentheses after the numeric offset.
	if idx := strings.Index(dateStr, " ("); idx != -1 {
		dateStr = dateStr[:idx]
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
