package mailbridge

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// taskRefPattern matches the task tag that outgoing notification mail
// carries in its subject, e.g. "Re: [task:4f1c-...] Ship it".
var taskRefPattern = regexp.MustCompile(`\[task:([A-Za-z0-9_-]+)\]`)

// replyHeaderPattern matches the attribution line mail clients put
// above a quoted reply ("On Mon, 1 Jan 2024, Alice <a@x> wrote:").
var replyHeaderPattern = regexp.MustCompile(`(?i)^on .+ wrote:$`)

// Message is an inbound reply.
type Message struct {
	UID     uint32
	From    string
	Subject string
	Date    time.Time
	Text    string
}

// ExtractTaskRef returns the task id tagged in subject.
func ExtractTaskRef(subject string) (string, bool) {
	m := taskRefPattern.FindStringSubmatch(subject)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// StripQuoted returns the new text of a reply: quoted lines, the
// attribution line above them and any signature are dropped.
func StripQuoted(body string) string {
	var kept []string

	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r ")
		trimmed := strings.TrimSpace(line)

		if line == "--" || line == "-- " || strings.HasPrefix(trimmed, "-----Original Message-----") {
			break
		}
		if replyHeaderPattern.MatchString(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// ParseMessage reads an RFC 5322 message and returns the sender
// address, subject, date and text/plain body.
func ParseMessage(raw []byte) (Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("parsing message: %w", err)
	}
	defer mr.Close()

	var msg Message

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = strings.ToLower(from[0].Address)
	}
	msg.Subject, _ = mr.Header.Subject()
	msg.Date, _ = mr.Header.Date()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("reading message part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return msg, fmt.Errorf("reading message body: %w", err)
		}
		if msg.Text == "" {
			msg.Text = string(body)
		}
	}

	if msg.From == "" {
		return msg, fmt.Errorf("parsing message: missing From address")
	}
	return msg, nil
}
