package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/username/cellarbook/backend/src/config"
	"github.com/username/cellarbook/backend/src/logger"
	"github.com/username/cellarbook/backend/src/models"
	"github.com/username/cellarbook/backend/src/utils"
)

func NewEmailService() EmailService {
	if config.Cfg == nil {
		slog.Error("Configuration (config.Cfg) is nil. Email service will default to mock.")
		return &MockEmailService{}
	}

	provider := strings.ToLower(config.Cfg.EmailServiceProvider)
	logger.L.Info("Initializing email service", "provider", provider)

	switch provider {
	case "mailgun":
		if config.Cfg.MailgunDomain == "" || config.Cfg.MailgunPrivateAPIKey == "" || config.Cfg.SenderEmail == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, or SenderEmail missing). Falling back to MockEmailService.")
			return &MockEmailService{}
		}
		mg := mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", config.Cfg.MailgunDomain)
		return &MailgunEmailService{
			mg:          mg,
			senderEmail: config.Cfg.SenderEmail,
			senderName:  config.Cfg.SenderName,
		}
	case "smtp":
		if config.Cfg.SMTPServer == "" || config.Cfg.SMTPUser == "" || config.Cfg.SMTPPassword == "" || config.Cfg.SenderEmail == "" {
			logger.L.Warn("SMTP configuration incomplete. Falling back to MockEmailService.")
			return &MockEmailService{}
		}
		return &SMTPEmailService{
			SMTPServer:   config.Cfg.SMTPServer,
			SMTPPort:     config.Cfg.SMTPPort,
			SMTPUser:     config.Cfg.SMTPUser,
			SMTPPassword: config.Cfg.SMTPPassword,
			SenderEmail:  config.Cfg.SenderEmail,
		}
	default:
		logger.L.Info("Defaulting to MockEmailService.")
		return &MockEmailService{}
	}
}

// alertSubject and alertBody render the anomaly summary shared by every
// provider. The body stays plain text: the review inbox is usually a shared
// mailbox scraped into a ticket queue.
func alertSubject(report *models.ReconciliationReport) string {
	return fmt.Sprintf("Cellarbook: %d batch(es) flagged for period %s to %s",
		report.Discrepancies,
		report.Start.Format(utils.DefaultDateFormat),
		report.End.Format(utils.DefaultDateFormat))
}

func alertBody(report *models.ReconciliationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reconciliation for %s to %s flagged %d batch(es) for review.\n\n",
		report.Start.Format(utils.DefaultDateFormat),
		report.End.Format(utils.DefaultDateFormat),
		report.Discrepancies)

	if report.ConfigMissing {
		b.WriteString("NOTE: no tax class configuration was loaded; all non-exempt, non-spirit batches were classified conservatively.\n\n")
	}

	for _, c := range report.PerBatch {
		if !c.AnyAnomaly() {
			continue
		}
		fmt.Fprintf(&b, "- %s (batch %d, %s):", c.BatchName, c.BatchID, c.TaxClass)
		if c.HasIdentityIssue {
			fmt.Fprintf(&b, " identity residual %.2f L;", c.IdentityResidual)
		}
		if c.HasDriftIssue {
			fmt.Fprintf(&b, " drift %.2f L vs cached total;", c.Drift)
		}
		if c.PackagingAmbiguity {
			b.WriteString(" ambiguous packaging loss records;")
		}
		if c.HasInitialVolumeAnomaly {
			b.WriteString(" initial volume double-counts inbound transfers;")
		}
		if c.ExceedsVesselCapacity {
			b.WriteString(" volume exceeds vessel capacity;")
		}
		b.WriteString("\n")
	}

	b.WriteString("\nOpen the reconciliation view in Cellarbook for the full report.\n")
	return b.String()
}

type SMTPEmailService struct {
	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SenderEmail  string
}

func (s *SMTPEmailService) SendReconciliationAlert(toEmail string, report *models.ReconciliationReport) error {
	from := s.SenderEmail
	to := []string{toEmail}
	subject := alertSubject(report)
	body := alertBody(report)

	header := make(map[string]string)
	header["From"] = from
	header["To"] = toEmail
	header["Subject"] = subject
	header["MIME-version"] = "1.0"
	header["Content-Type"] = "text/plain; charset=\"UTF-8\""
	message := ""
	for k, v := range header {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	message += "\r\n" + body
	auth := smtp.PlainAuth("", s.SMTPUser, s.SMTPPassword, s.SMTPServer)
	addr := fmt.Sprintf("%s:%d", s.SMTPServer, s.SMTPPort)
	err := smtp.SendMail(addr, auth, from, to, []byte(message))
	if err != nil {
		logger.L.Error("Failed to send reconciliation alert via SMTP", "error", err, "to", toEmail)
		return fmt.Errorf("failed to send reconciliation alert via SMTP: %w", err)
	}
	logger.L.Info("Reconciliation alert sent successfully via SMTP", "to", toEmail)
	return nil
}

type MailgunEmailService struct {
	mg          mailgun.Mailgun
	senderEmail string
	senderName  string
}

func (s *MailgunEmailService) SendReconciliationAlert(toEmail string, report *models.ReconciliationReport) error {
	from := fmt.Sprintf("%s <%s>", s.senderName, s.senderEmail)
	subject := alertSubject(report)

	message := s.mg.NewMessage(from, subject, alertBody(report), toEmail)
	message.AddTag("reconciliation-alert")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()
	resp, id, err := s.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send reconciliation alert via Mailgun", "error", err, "to", toEmail, "mailgunResp", resp, "mailgunId", id)
		return fmt.Errorf("mailgun send failed: %w. Response: %s", err, resp)
	}
	logger.L.Info("Reconciliation alert sent successfully via Mailgun", "to", toEmail, "id", id, "mailgunResp", resp)
	return nil
}

type MockEmailService struct{}

func (m *MockEmailService) SendReconciliationAlert(toEmail string, report *models.ReconciliationReport) error {
	logger.L.Info("MockEmailService: Would send reconciliation alert.",
		"to", toEmail, "discrepancies", report.Discrepancies,
		"start", report.Start.Format(utils.DefaultDateFormat),
		"end", report.End.Format(utils.DefaultDateFormat))
	return nil
}
