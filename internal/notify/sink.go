package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/alecgard/teamspace/internal/config"
)

// Sink delivers one email message.
type Sink interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// NewSink builds the Sink selected by cfg.Provider.
func NewSink(cfg config.EmailConfig) (Sink, error) {
	switch cfg.Provider {
	case "resend":
		return NewResendSink(cfg.ResendAPIKey, cfg.From, cfg.ResendBaseURL, cfg.Timeout), nil
	case "smtp":
		return NewSMTPSink(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.From), nil
	case "log", "":
		return LogSink{}, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// ResendSink sends through the Resend HTTP API.
type ResendSink struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

// NewResendSink creates a ResendSink. An empty baseURL uses the public API.
func NewResendSink(apiKey, from, baseURL string, timeout time.Duration) *ResendSink {
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ResendSink{
		apiKey:  apiKey,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *ResendSink) Send(ctx context.Context, to []string, subject, body string) error {
	jsonBody, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      to,
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("resend API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SMTPSink sends through an SMTP relay with PLAIN auth.
type SMTPSink struct {
	addr string
	host string
	user string
	pass string
	from string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSink creates an SMTPSink. Auth is skipped when user is empty.
func NewSMTPSink(host string, port int, user, pass, from string) *SMTPSink {
	return &SMTPSink{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		host:     host,
		user:     user,
		pass:     pass,
		from:     from,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSink) Send(ctx context.Context, to []string, subject, body string) error {
	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.pass, s.host)
	}

	msg := buildMessage(s.from, to, subject, body, time.Now())
	envelopeFrom := s.from
	if addr := extractAddress(s.from); addr != "" {
		envelopeFrom = addr
	}

	// net/smtp has no context support; run the exchange and give up waiting
	// when ctx ends.
	errc := make(chan error, 1)
	go func() {
		errc <- s.sendMail(s.addr, auth, envelopeFrom, to, msg)
	}()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

// buildMessage renders a plain-text RFC 5322 message.
func buildMessage(from string, to []string, subject, body string, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + stripCRLF(from) + "\r\n")
	b.WriteString("To: " + stripCRLF(strings.Join(to, ", ")) + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", stripCRLF(subject)) + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

func stripCRLF(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// extractAddress returns the bare address of "Name <addr>" or addr.
func extractAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return strings.TrimSpace(from)
}

// LogSink writes messages to the structured log instead of sending them.
type LogSink struct{}

func (LogSink) Send(_ context.Context, to []string, subject, body string) error {
	slog.Info("email not sent, log provider configured",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}
