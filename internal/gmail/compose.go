package gmail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/vipul43/mailsync/internal/service"
)

// composeMessage renders the outgoing message as RFC 5322 bytes. Messages with both bodies are
// sent as multipart/alternative.
func composeMessage(msg *service.OutgoingMessage, now time.Time) ([]byte, error) {
	if len(msg.To)+len(msg.Cc)+len(msg.Bcc) == 0 {
		return nil, errors.New("message has no recipients")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	from, err := parseAddresses([]string{msg.From})
	if err != nil {
		return nil, err
	}
	h.SetAddressList("From", from)

	for _, field := range []struct {
		name  string
		value []string
	}{
		{"To", msg.To},
		{"Cc", msg.Cc},
		{"Bcc", msg.Bcc},
	} {
		if len(field.value) == 0 {
			continue
		}
		list, err := parseAddresses(field.value)
		if err != nil {
			return nil, err
		}
		h.SetAddressList(field.name, list)
	}

	var buf bytes.Buffer
	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		w, err := mail.CreateInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if err := writeInlinePart(w, "text/plain", msg.TextBody); err != nil {
			return nil, err
		}
		if err := writeInlinePart(w, "text/html", msg.HTMLBody); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		contentType, body := "text/plain", msg.TextBody
		if msg.TextBody == "" && msg.HTMLBody != "" {
			contentType, body = "text/html", msg.HTMLBody
		}
		h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeInlinePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := w.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return err
	}
	return pw.Close()
}

// parseAddresses accepts bare addresses as well as `Name <address>` forms.
func parseAddresses(values []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		list, err := mail.ParseAddressList(v)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", v, err)
		}
		out = append(out, list...)
	}
	return out, nil
}
