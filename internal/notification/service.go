package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrDisabled is returned by SendEmail when no provider is configured.
var ErrDisabled = errors.New("email not configured")

type Config struct {
	Provider    string // "", "smtp" or "sendgrid"
	FromAddress string
	FromName    string

	Host       string
	Port       int
	Username   string
	Password   string
	Encryption string // "ssl", "starttls" or "none"

	SendGridAPIKey string
}

// Mailer sends one HTML email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type Service struct {
	cfg Config
}

func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// Enabled reports whether a provider is configured.
func (s *Service) Enabled() bool { return s.cfg.Provider != "" }

func (s *Service) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch s.cfg.Provider {
	case "":
		return ErrDisabled
	case "smtp":
		return s.sendSMTP(to, subject, body)
	case "sendgrid":
		return s.sendSendgrid(to, subject, body)
	default:
		return fmt.Errorf("unknown provider: %s", s.cfg.Provider)
	}
}

func (s *Service) message(to, subject, body string) []byte {
	from := s.cfg.FromAddress
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromAddress)
	}
	return []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=\"UTF-8\"\r\n"+
		"\r\n"+
		"%s\r\n", from, to, subject, body))
}

func (s *Service) sendSMTP(to, subject, body string) error {
	cfg := s.cfg
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	msg := s.message(to, subject, body)

	var c *smtp.Client
	switch cfg.Encryption {
	case "ssl":
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.Host})
		if err != nil {
			return err
		}
		c, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return err
		}
	case "starttls", "tls":
		var err error
		c, err = smtp.Dial(addr)
		if err != nil {
			return err
		}
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				c.Close()
				return err
			}
		}
	default:
		var auth smtp.Auth
		if cfg.Username != "" {
			auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		}
		return smtp.SendMail(addr, auth, cfg.FromAddress, []string{to}, msg)
	}
	defer c.Quit()

	if cfg.Username != "" && cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(cfg.FromAddress); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

func (s *Service) sendSendgrid(to, subject, body string) error {
	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromAddress)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), body, body)
	client := sendgrid.NewSendClient(s.cfg.SendGridAPIKey)
	resp, err := client.Send(message)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: %d %s", resp.StatusCode, resp.Body)
	}
	return nil
}
