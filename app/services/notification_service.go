// Package services provides external service integrations and technical concerns like notifications and tokens
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/amirphl/evoteli/config"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
)

// EmailMessage is one outgoing email
type EmailMessage struct {
	To         string
	Subject    string
	HTML       string
	Text       string
	Categories []string
	CustomArgs map[string]string
}

// EmailResult reports the provider's acceptance of a message
type EmailResult struct {
	DeliveryID string
}

// EmailGateway sends rendered emails
type EmailGateway interface {
	Send(ctx context.Context, msg EmailMessage) (*EmailResult, error)
}

// NewEmailGateway selects the provider named in config
func NewEmailGateway(cfg config.EmailConfig) EmailGateway {
	if cfg.Provider == "sendgrid" {
		return NewSendGridGateway(cfg)
	}
	return NewMockEmailGateway()
}

// SendGridGateway posts to the SendGrid v3 mail send endpoint
type SendGridGateway struct {
	apiKey     string
	baseURL    string
	fromEmail  string
	fromName   string
	asmGroupID int
	client     *http.Client
}

func NewSendGridGateway(cfg config.EmailConfig) *SendGridGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := cfg.APIBaseURL
	if base == "" {
		base = "https://api.sendgrid.com"
	}
	return &SendGridGateway{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(base, "/"),
		fromEmail:  cfg.FromEmail,
		fromName:   cfg.FromName,
		asmGroupID: cfg.UnsubscribeGroup,
		client:     &http.Client{Timeout: timeout},
	}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMail struct {
	Personalizations []struct {
		To []sgAddress `json:"to"`
	} `json:"personalizations"`
	From       sgAddress         `json:"from"`
	Subject    string            `json:"subject"`
	Content    []sgContent       `json:"content"`
	Categories []string          `json:"categories,omitempty"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
	ASM        *struct {
		GroupID int `json:"group_id"`
	} `json:"asm,omitempty"`
}

func (g *SendGridGateway) Send(ctx context.Context, msg EmailMessage) (*EmailResult, error) {
	mail := sgMail{
		From:       sgAddress{Email: g.fromEmail, Name: g.fromName},
		Subject:    msg.Subject,
		Categories: msg.Categories,
		CustomArgs: msg.CustomArgs,
	}
	mail.Personalizations = make([]struct {
		To []sgAddress `json:"to"`
	}, 1)
	mail.Personalizations[0].To = []sgAddress{{Email: msg.To}}
	// text/plain must precede text/html
	if msg.Text != "" {
		mail.Content = append(mail.Content, sgContent{Type: "text/plain", Value: msg.Text})
	}
	mail.Content = append(mail.Content, sgContent{Type: "text/html", Value: msg.HTML})
	if g.asmGroupID > 0 {
		mail.ASM = &struct {
			GroupID int `json:"group_id"`
		}{GroupID: g.asmGroupID}
	}

	body, err := json.Marshal(mail)
	if err != nil {
		return nil, fmt.Errorf("failed to encode email: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sendgrid request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("sendgrid http status: %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return &EmailResult{DeliveryID: resp.Header.Get("X-Message-Id")}, nil
}

// MockEmailGateway logs messages and keeps them for inspection
type MockEmailGateway struct {
	mu   sync.Mutex
	Sent []EmailMessage
	Fail error
}

func NewMockEmailGateway() *MockEmailGateway {
	return &MockEmailGateway{}
}

func (g *MockEmailGateway) Send(_ context.Context, msg EmailMessage) (*EmailResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return nil, g.Fail
	}
	g.Sent = append(g.Sent, msg)
	log.Printf("Email sent to %s [%s]", msg.To, msg.Subject)
	return &EmailResult{DeliveryID: "mock-" + uuid.NewString()}, nil
}

// Messages returns a copy of the sent messages
func (g *MockEmailGateway) Messages() []EmailMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]EmailMessage(nil), g.Sent...)
}

// PropertySummary is the per-record content of an alert email
type PropertySummary struct {
	ID                   uuid.UUID
	Address              string
	City                 string
	State                string
	Zip                  string
	PropertyType         string
	RoofScore            *int
	RoofCondition        string
	SolarScore           *int
	DrivewayScore        *int
	ConstructionActivity *int
}

// SummarizeProperty extracts the headline attributes of a record and its present analyses
func SummarizeProperty(p *models.Property) PropertySummary {
	s := PropertySummary{
		ID:           p.ID,
		Address:      p.Address,
		City:         p.City,
		State:        p.State,
		Zip:          p.Zip,
		PropertyType: string(p.PropertyType),
	}
	if p.Roof != nil {
		s.RoofScore = p.Roof.Score
		s.RoofCondition = string(p.Roof.Condition)
	}
	if p.Solar != nil {
		score := p.Solar.Score
		s.SolarScore = &score
	}
	if p.Driveway != nil {
		s.DrivewayScore = p.Driveway.ConditionScore
	}
	if p.Permits != nil {
		s.ConstructionActivity = p.Permits.ConstructionActivityScore
	}
	return s
}

// AlertNotification is a rendered-on-send property alert
type AlertNotification struct {
	SearchID   uuid.UUID
	SearchName string
	Recipient  string
	Properties []PropertySummary
	// MatchCount may exceed len(Properties) when the preview is capped
	MatchCount int
}

// DeliveryOutcome never carries a Go error; failures are recorded as text
type DeliveryOutcome struct {
	Delivered  bool
	DeliveryID string
	Error      string
}

// NotificationService renders and dispatches alert emails
type NotificationService interface {
	SendPropertyAlert(ctx context.Context, n AlertNotification) DeliveryOutcome
	SendTestAlert(ctx context.Context, recipient, searchName string, searchID uuid.UUID) DeliveryOutcome
}

// NotificationServiceImpl implements NotificationService
type NotificationServiceImpl struct {
	gateway      EmailGateway
	frontendURL  string
	appName      string
	maxPreviewed int
}

// NewNotificationService creates a new notification service
func NewNotificationService(gateway EmailGateway, cfg config.EmailConfig) NotificationService {
	maxPreviewed := cfg.MaxAlertPreviewed
	if maxPreviewed <= 0 {
		maxPreviewed = 10
	}
	appName := cfg.FromName
	if appName == "" {
		appName = "Evoteli"
	}
	return &NotificationServiceImpl{
		gateway:      gateway,
		frontendURL:  strings.TrimRight(cfg.FrontendURL, "/"),
		appName:      appName,
		maxPreviewed: maxPreviewed,
	}
}

type alertView struct {
	SearchID   string
	SearchName string
	Count      int
	Noun       string
	Properties []PropertySummary
	More       int
	BaseURL    string
	AppName    string
}

var alertHTML = htmltemplate.Must(htmltemplate.New("alert").Parse(`<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background-color: #0066cc; color: white; padding: 20px; text-align: center; }
.property { border: 1px solid #ddd; margin: 15px 0; padding: 15px; border-radius: 5px; }
.score { display: inline-block; background-color: #28a745; color: white; padding: 5px 10px; border-radius: 3px; margin: 5px 5px 5px 0; }
.cta { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; }
.footer { text-align: center; color: #666; font-size: 12px; margin-top: 30px; border-top: 1px solid #ddd; padding-top: 20px; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h1>New Properties Match Your Search</h1><p>{{.SearchName}}</p></div>
<p>We found {{.Count}} new {{.Noun}} matching your saved search criteria:</p>
{{range .Properties}}
<div class="property">
<div><strong>{{.Address}}</strong>, {{.City}}, {{.State}} {{.Zip}}</div>
<p><strong>Type:</strong> {{.PropertyType}}</p>
{{with .RoofScore}}<div class="score">RoofIQ Score: {{.}}/100</div>{{end}}
{{with .SolarScore}}<div class="score">Solar Score: {{.}}/100</div>{{end}}
{{with .DrivewayScore}}<div class="score">Driveway Score: {{.}}/100</div>{{end}}
{{with .ConstructionActivity}}<div class="score">Construction Activity: {{.}}/100</div>{{end}}
<p><a class="cta" href="{{$.BaseURL}}/property/{{.ID}}">View Details</a></p>
</div>
{{end}}
{{if .More}}<p>And {{.More}} more.</p>{{end}}
<div style="text-align: center;"><a class="cta" href="{{.BaseURL}}/searches/{{.SearchID}}">View All Results</a></div>
<div class="footer">
<p>You're receiving this email because you created a saved search on {{.AppName}}.</p>
<p><a href="{{.BaseURL}}/settings/email">Manage Email Preferences</a></p>
</div>
</div>
</body>
</html>
`))

var alertText = template.Must(template.New("alert").Parse(`New Properties Match Your Search: {{.SearchName}}

We found {{.Count}} new {{.Noun}} matching your saved search:
{{range .Properties}}
- {{.Address}}, {{.City}}, {{.State}} {{.Zip}}
  Type: {{.PropertyType}}
{{- with .RoofScore}}
  RoofIQ Score: {{.}}/100{{end}}
{{- with .SolarScore}}
  Solar Score: {{.}}/100{{end}}
{{- with .DrivewayScore}}
  Driveway Score: {{.}}/100{{end}}
  View: {{$.BaseURL}}/property/{{.ID}}
{{end}}
{{- if .More}}
And {{.More}} more.
{{end}}
View all results: {{.BaseURL}}/searches/{{.SearchID}}

You're receiving this email because you created a saved search on {{.AppName}}.
Manage your email preferences: {{.BaseURL}}/settings/email
`))

var testAlertHTML = htmltemplate.Must(htmltemplate.New("test").Parse(`<html>
<body>
<h2>Test Alert</h2>
<p>This is a test alert for your saved search: <strong>{{.SearchName}}</strong></p>
<p>When properties match your search criteria, you'll receive an email similar to this with property details.</p>
</body>
</html>
`))

// SendPropertyAlert renders the alert and hands it to the gateway
func (s *NotificationServiceImpl) SendPropertyAlert(ctx context.Context, n AlertNotification) DeliveryOutcome {
	count := n.MatchCount
	if count < len(n.Properties) {
		count = len(n.Properties)
	}
	props := n.Properties
	if len(props) > s.maxPreviewed {
		props = props[:s.maxPreviewed]
	}
	view := alertView{
		SearchID:   n.SearchID.String(),
		SearchName: n.SearchName,
		Count:      count,
		Noun:       "properties",
		Properties: props,
		More:       count - len(props),
		BaseURL:    s.frontendURL,
		AppName:    s.appName,
	}
	if count == 1 {
		view.Noun = "property"
	}

	var html, text bytes.Buffer
	if err := alertHTML.Execute(&html, view); err != nil {
		return DeliveryOutcome{Error: fmt.Sprintf("failed to render alert email: %v", err)}
	}
	if err := alertText.Execute(&text, view); err != nil {
		return DeliveryOutcome{Error: fmt.Sprintf("failed to render alert email: %v", err)}
	}

	return s.send(ctx, EmailMessage{
		To:         n.Recipient,
		Subject:    fmt.Sprintf("%s: %s", utils.AlertEmailSubjectBase, n.SearchName),
		HTML:       html.String(),
		Text:       text.String(),
		Categories: []string{"property_alert"},
		CustomArgs: map[string]string{
			"search_id":  n.SearchID.String(),
			"alert_type": "property_match",
		},
	})
}

// SendTestAlert sends a sample email; it touches no alert state
func (s *NotificationServiceImpl) SendTestAlert(ctx context.Context, recipient, searchName string, searchID uuid.UUID) DeliveryOutcome {
	var html bytes.Buffer
	if err := testAlertHTML.Execute(&html, struct{ SearchName string }{searchName}); err != nil {
		return DeliveryOutcome{Error: fmt.Sprintf("failed to render test email: %v", err)}
	}
	return s.send(ctx, EmailMessage{
		To:         recipient,
		Subject:    "Test Alert: " + searchName,
		HTML:       html.String(),
		Text:       fmt.Sprintf("This is a test alert for your saved search: %s", searchName),
		Categories: []string{"test_alert"},
		CustomArgs: map[string]string{
			"search_id":  searchID.String(),
			"alert_type": "test",
		},
	})
}

func (s *NotificationServiceImpl) send(ctx context.Context, msg EmailMessage) DeliveryOutcome {
	if s.gateway == nil {
		return DeliveryOutcome{Error: "email gateway not configured"}
	}
	if msg.To == "" || !strings.Contains(msg.To, "@") {
		return DeliveryOutcome{Error: fmt.Sprintf("invalid email address: %q", msg.To)}
	}
	res, err := s.gateway.Send(ctx, msg)
	if err != nil {
		return DeliveryOutcome{Error: err.Error()}
	}
	return DeliveryOutcome{Delivered: true, DeliveryID: res.DeliveryID}
}
