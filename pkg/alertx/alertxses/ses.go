package alertxses

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/Abraxas-365/batchx/pkg/alertx"
)

// SESProvider delivers alerts as email via AWS SES.
type SESProvider struct {
	client      *ses.Client
	fromAddress string
	recipients  []string
	templates   *alertx.TemplateRegistry
}

// NewSESProvider creates a new SES alert provider. The template registry is
// optional; without one the alert body is rendered as plain text.
func NewSESProvider(client *ses.Client, fromAddress string, recipients []string, templates *alertx.TemplateRegistry) *SESProvider {
	return &SESProvider{
		client:      client,
		fromAddress: fromAddress,
		recipients:  recipients,
		templates:   templates,
	}
}

// Name identifies the provider in delivery results.
func (p *SESProvider) Name() string { return "ses" }

// Send delivers one alert email to the configured recipients.
func (p *SESProvider) Send(ctx context.Context, a alertx.Alert, opts ...alertx.Option) error {
	if len(p.recipients) == 0 {
		return sesErrors.New(ErrNoRecipients)
	}

	body := &types.Body{}
	if html := p.renderHTML(a, opts); html != "" {
		body.Html = &types.Content{
			Data:    aws.String(html),
			Charset: aws.String("UTF-8"),
		}
	} else {
		body.Text = &types.Content{
			Data:    aws.String(textBody(a)),
			Charset: aws.String("UTF-8"),
		}
	}

	subject := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(a.Severity)), a.Source, a.Title)

	_, err := p.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(p.fromAddress),
		Destination: &types.Destination{ToAddresses: p.recipients},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	})
	if err != nil {
		return sesErrors.NewWithCause(ErrSendFailed, err).
			WithDetail("alert_id", a.ID).
			WithDetail("subject", subject)
	}
	return nil
}

func (p *SESProvider) renderHTML(a alertx.Alert, opts []alertx.Option) string {
	if p.templates == nil {
		return ""
	}
	var so alertx.SendOptions
	for _, o := range opts {
		o(&so)
	}
	if so.Template == "" {
		return ""
	}
	html, err := p.templates.Render(so.Template, a)
	if err != nil {
		return ""
	}
	return html
}

func textBody(a alertx.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n", a.Title, a.Message)
	if len(a.Fields) > 0 {
		b.WriteString("\n")
		for k, v := range a.Fields {
			fmt.Fprintf(&b, "%s: %v\n", k, v)
		}
	}
	fmt.Fprintf(&b, "\nalert %s from %s at %s\n", a.ID, a.Source, a.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
