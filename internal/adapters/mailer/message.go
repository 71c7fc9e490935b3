package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
)

var (
	ErrNoFrom       = xerrors.New("no 'from' address defined")
	ErrNoRecipients = xerrors.New("no recipients defined")
)

// envelope is a validated message ready for the wire.
type envelope struct {
	from       string
	recipients []string
	body       []byte
}

func parseList(field string, addrs []string) ([]*mail.Address, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	list, err := mail.ParseAddressList(strings.Join(addrs, ", "))
	if err != nil {
		return nil, xerrors.Errorf("parse '%s' addresses: %w", field, err)
	}
	return list, nil
}

func joinAddrs(list []*mail.Address) string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return strings.Join(out, ", ")
}

// build validates msg and encodes it as multipart/mixed: one quoted-printable
// HTML part followed by base64 attachments.
func build(msg domain.Message, msgID string, now time.Time) (envelope, error) {
	if msg.From == "" {
		return envelope{}, ErrNoFrom
	}
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return envelope{}, xerrors.Errorf("parse 'from' address: %w", err)
	}
	to, err := parseList("to", msg.To)
	if err != nil {
		return envelope{}, err
	}
	cc, err := parseList("cc", msg.Cc)
	if err != nil {
		return envelope{}, err
	}
	bcc, err := parseList("bcc", msg.Bcc)
	if err != nil {
		return envelope{}, err
	}

	seen := map[string]bool{}
	var recipients []string
	for _, list := range [][]*mail.Address{to, cc, bcc} {
		for _, a := range list {
			key := strings.ToLower(a.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			recipients = append(recipients, a.Address)
		}
	}
	if len(recipients) == 0 {
		return envelope{}, ErrNoRecipients
	}

	var (
		head  bytes.Buffer
		parts bytes.Buffer
	)
	mw := multipart.NewWriter(&parts)

	_, _ = fmt.Fprintf(&head, "From: %s\r\n", from.String())
	if len(to) > 0 {
		_, _ = fmt.Fprintf(&head, "To: %s\r\n", joinAddrs(to))
	}
	if len(cc) > 0 {
		_, _ = fmt.Fprintf(&head, "Cc: %s\r\n", joinAddrs(cc))
	}
	if msg.ReplyTo != "" {
		replyTo, err := mail.ParseAddress(msg.ReplyTo)
		if err != nil {
			return envelope{}, xerrors.Errorf("parse 'reply-to' address: %w", err)
		}
		_, _ = fmt.Fprintf(&head, "Reply-To: %s\r\n", replyTo.String())
	}
	_, _ = fmt.Fprintf(&head, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	_, _ = fmt.Fprintf(&head, "Message-Id: <%s>\r\n", msgID)
	_, _ = fmt.Fprintf(&head, "Date: %s\r\n", now.Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(&head, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(&head, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	w, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Transfer-Encoding": {"quoted-printable"},
		"Content-Type":              {"text/html; charset=UTF-8"},
	})
	if err != nil {
		return envelope{}, xerrors.Errorf("create part for HTML body: %w", err)
	}
	qw := quotedprintable.NewWriter(w)
	if _, err := qw.Write([]byte(msg.HTML)); err != nil {
		return envelope{}, xerrors.Errorf("write HTML part: %w", err)
	}
	if err := qw.Close(); err != nil {
		return envelope{}, xerrors.Errorf("close HTML part: %w", err)
	}

	for _, a := range msg.Attachments {
		ctype := mime.TypeByExtension(filepath.Ext(a.Name))
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {ctype},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Name})},
		})
		if err != nil {
			return envelope{}, xerrors.Errorf("create part for %s: %w", a.Name, err)
		}
		if err := writeBase64(w, a.Data); err != nil {
			return envelope{}, xerrors.Errorf("write %s: %w", a.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return envelope{}, xerrors.Errorf("close multipart writer: %w", err)
	}

	head.Write(parts.Bytes())
	return envelope{from: from.Address, recipients: recipients, body: head.Bytes()}, nil
}

// writeBase64 wraps encoded data at 76 columns.
func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := fmt.Fprintf(w, "%s\r\n", enc[:76]); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := fmt.Fprintf(w, "%s\r\n", enc)
	return err
}

// domainOf returns the lowercased domain part of addr.
func domainOf(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}
