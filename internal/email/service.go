// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	FromName  string
	EnableTLS bool
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-planner"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type ApprovalRequestData struct {
	AppName   string
	PostTitle string
	Stage     string
	ReviewURL string
}

type DecisionData struct {
	AppName   string
	PostTitle string
	Decision  string
	DecidedBy string
	Notes     string
}

type PortalInviteData struct {
	AppName    string
	ClientName string
	PortalURL  string
}

// SendApprovalRequestEmail asks an approver to review a post.
func (s *Service) SendApprovalRequestEmail(to, postTitle, stage, reviewURL string) error {
	data := ApprovalRequestData{
		AppName:   "Planner",
		PostTitle: postTitle,
		Stage:     stage,
		ReviewURL: reviewURL,
	}

	subject := fmt.Sprintf("Approval needed: %s", postTitle)
	html, err := renderTemplate(approvalRequestEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render approval request template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendDecisionEmail tells the post creator how a reviewer decided.
func (s *Service) SendDecisionEmail(to, postTitle, decision, decidedBy, notes string) error {
	data := DecisionData{
		AppName:   "Planner",
		PostTitle: postTitle,
		Decision:  strings.ReplaceAll(decision, "_", " "),
		DecidedBy: decidedBy,
		Notes:     notes,
	}

	subject := fmt.Sprintf("%s: %s", data.Decision, postTitle)
	html, err := renderTemplate(decisionEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render decision template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendPortalInviteEmail sends a client reviewer their portal access link.
func (s *Service) SendPortalInviteEmail(to, clientName, portalURL string) error {
	data := PortalInviteData{
		AppName:    "Planner",
		ClientName: clientName,
		PortalURL:  portalURL,
	}

	subject := fmt.Sprintf("Your %s review portal access", clientName)
	html, err := renderTemplate(portalInviteEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render portal invite template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const approvalRequestEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Approval needed</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Approval needed</h2>

    <p>A post is waiting for your {{.Stage}} review:</p>

    <p><strong>{{.PostTitle}}</strong></p>

    <p>
        <a href="{{.ReviewURL}}" class="button">Review Post</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ReviewURL}}</p>

    <div class="footer">
        <p>You received this email because you are listed as an approver for this post.</p>
    </div>
</body>
</html>`

const decisionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Review decision</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .notes { background: #f6f8fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>{{.Decision}}</h2>

    <p>{{.DecidedBy}} recorded a decision on your post:</p>

    <p><strong>{{.PostTitle}}</strong></p>

    {{if .Notes}}
    <div class="notes">
        <strong>Notes:</strong> {{.Notes}}
    </div>
    {{end}}

    <div class="footer">
        <p>You received this email because you created this post.</p>
    </div>
</body>
</html>`

const portalInviteEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Review portal access</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Review portal access for {{.ClientName}}</h2>

    <p>Use the link below to review posts awaiting your approval. Keep it private; it identifies you.</p>

    <p>
        <a href="{{.PortalURL}}" class="button">Open Review Portal</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.PortalURL}}</p>

    <div class="footer">
        <p>If you were not expecting this invitation, you can safely ignore this email.</p>
    </div>
</body>
</html>`
