package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html/template"
	"log"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/ETAnderson/pricewatch/internal/metrics"
)

// SMTPConfig is the mail transport. Port 465 means implicit TLS; anything
// else goes through STARTTLS when the server offers it.
type SMTPConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	FromName string
}

func (c SMTPConfig) configured() bool {
	return strings.TrimSpace(c.User) != "" && c.Password != "" && c.Server != ""
}

// ConfigReader is the key/value store holding smtp_* overrides.
type ConfigReader interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
}

// SMTPSender mails HTML price-drop alerts. Overrides are read on every send
// so settings changed at runtime apply to the next alert.
type SMTPSender struct {
	Defaults  SMTPConfig
	Overrides ConfigReader
	Logger    *log.Logger

	// send is a seam for tests.
	send func(ctx context.Context, cfg SMTPConfig, to string, msg []byte) error
}

func NewSMTPSender(defaults SMTPConfig, overrides ConfigReader, logger *log.Logger) *SMTPSender {
	return &SMTPSender{Defaults: defaults, Overrides: overrides, Logger: logger}
}

func (s *SMTPSender) Notify(ctx context.Context, p PriceDrop) (bool, error) {
	cfg := s.resolve(ctx)
	if !cfg.configured() {
		s.logf("smtp not configured; skipping alert for goods_id=%d", p.GoodsID)
		metrics.Notifications.WithLabelValues("skipped").Inc()
		return false, nil
	}

	msg, err := buildMessage(cfg, p)
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return false, err
	}

	send := s.send
	if send == nil {
		send = deliver
	}
	if err := send(ctx, cfg, p.Email, msg); err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return false, fmt.Errorf("smtp send to %s: %w", p.Email, err)
	}

	metrics.Notifications.WithLabelValues("sent").Inc()
	s.logf("price drop mail sent goods_id=%d to=%s", p.GoodsID, p.Email)
	return true, nil
}

func (s *SMTPSender) resolve(ctx context.Context) SMTPConfig {
	cfg := s.Defaults
	if s.Overrides == nil {
		return cfg
	}

	get := func(key string) string {
		v, ok, err := s.Overrides.GetConfig(ctx, key)
		if err != nil || !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	if v := get("smtp_server"); v != "" {
		cfg.Server = v
	}
	if v := get("smtp_port"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}
	if v := get("smtp_user"); v != "" {
		cfg.User = v
	}
	if v := get("smtp_password"); v != "" {
		cfg.Password = v
	}
	if v := get("smtp_from_name"); v != "" {
		cfg.FromName = v
	}
	return cfg
}

func (s *SMTPSender) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

var dropTemplate = template.Must(template.New("drop").Parse(`<div style="font-family: Helvetica, Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #eee; border-radius: 8px;">
  <h2 style="color: #FB7299;">Price drop</h2>
  <p>An item you follow has a new low price.</p>
  <div style="margin: 20px 0; background: #f9f9f9; padding: 15px; border-radius: 6px;">
    {{if .ImageURL}}<img src="{{.ImageURL}}" style="width: 100px; height: 100px; object-fit: cover; border-radius: 4px;">{{end}}
    <h3 style="margin: 0 0 10px 0; font-size: 16px;">{{.ProductName}}</h3>
    <p style="margin: 0; color: #999; text-decoration: line-through;">Was: ¥{{.Old}}</p>
    <p style="margin: 5px 0 0 0; color: #f5222d; font-size: 20px; font-weight: bold;">Now: ¥{{.New}} <span style="font-size: 12px;">↓ {{.Percent}}%</span></p>
  </div>
  <a href="{{.Link}}" style="display: block; text-align: center; background: #FB7299; color: white; padding: 12px 0; text-decoration: none; border-radius: 4px;">View listing</a>
</div>
`))

func buildMessage(cfg SMTPConfig, p PriceDrop) ([]byte, error) {
	var body bytes.Buffer
	err := dropTemplate.Execute(&body, map[string]any{
		"ProductName": p.ProductName,
		"ImageURL":    p.ImageURL,
		"Link":        p.Link,
		"Old":         p.OldPrice.StringFixed(2),
		"New":         p.NewPrice.StringFixed(2),
		"Percent":     p.DropPercent().StringFixed(1),
	})
	if err != nil {
		return nil, err
	}

	from := (&mail.Address{Name: cfg.FromName, Address: cfg.User}).String()
	subject := fmt.Sprintf("Price drop: %s now ¥%s", p.ProductName, p.NewPrice.StringFixed(2))

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", p.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	enc := base64.StdEncoding.EncodeToString(body.Bytes())
	for len(enc) > 76 {
		msg.WriteString(enc[:76] + "\r\n")
		enc = enc[76:]
	}
	msg.WriteString(enc + "\r\n")

	return msg.Bytes(), nil
}

func deliver(ctx context.Context, cfg SMTPConfig, to string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))
	auth := smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Server)

	if cfg.Port != 465 {
		return smtp.SendMail(addr, auth, cfg.User, []string{to}, msg)
	}

	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 15 * time.Second},
		Config:    &tls.Config{ServerName: cfg.Server},
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	c, err := smtp.NewClient(conn, cfg.Server)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Auth(auth); err != nil {
		return err
	}
	if err := c.Mail(cfg.User); err != nil {
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
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
