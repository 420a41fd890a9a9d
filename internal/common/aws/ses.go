// internal/common/aws/ses.go
package aws

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the slice of the SES API the mailer uses.
type SESService interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// Attachment is a file sent with an email.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SESMailer sends CSV exports by email.
type SESMailer struct {
	client SESService
	from   string
}

func NewSESMailer(client SESService, from string) *SESMailer {
	return &SESMailer{client: client, from: from}
}

// SendAttachment emails one attachment and returns the SES message id.
func (m *SESMailer) SendAttachment(ctx context.Context, to, subject, body string, file Attachment) (string, error) {
	if m == nil || m.client == nil || m.from == "" {
		return "", ErrNotificationsDisabled
	}

	raw, err := buildRawMessage(m.from, to, subject, body, file)
	if err != nil {
		return "", fmt.Errorf("build email: %w", err)
	}

	out, err := m.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(m.from),
		Destinations: []string{to},
		RawMessage:   &types.RawMessage{Data: raw},
	})
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func buildRawMessage(from, to, subject, body string, file Attachment) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(body)); err != nil {
		return nil, err
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename})},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(file.Data)
	for len(encoded) > 76 {
		if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return nil, err
		}
		encoded = encoded[76:]
	}
	if _, err := part.Write([]byte(encoded)); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
