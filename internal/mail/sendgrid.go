package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/riverstonegoods/storefront-backend/pkg/config"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
)

const sendgridSendURL = "https://api.sendgrid.com/v3/mail/send"

type sendgridMailer struct {
	apiKey string
	from   string
	url    string
	client *http.Client
}

// NewSendgridMailer builds a Mailer backed by the SendGrid v3 REST API.
func NewSendgridMailer(cfg config.SendgridConfig) (Mailer, error) {
	if cfg.APIKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sendgrid api key required")
	}
	if cfg.DefaultFrom == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sendgrid from address required")
	}
	return &sendgridMailer{
		apiKey: cfg.APIKey,
		from:   cfg.DefaultFrom,
		url:    sendgridSendURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (m *sendgridMailer) SendOrderConfirmation(ctx context.Context, email OrderEmail) error {
	subject := fmt.Sprintf("Order %s confirmed", shortOrderRef(email))
	body := fmt.Sprintf("Thanks for your order. We received your payment of %s.", formatAmount(email))
	return m.send(ctx, email.To, subject, body)
}

func (m *sendgridMailer) SendOrderCancelled(ctx context.Context, email OrderEmail) error {
	subject := fmt.Sprintf("Order %s cancelled", shortOrderRef(email))
	body := "Your order has been cancelled. Any captured payment will be refunded."
	return m.send(ctx, email.To, subject, body)
}

func (m *sendgridMailer) SendPaymentFailed(ctx context.Context, email OrderEmail) error {
	subject := fmt.Sprintf("Payment failed for order %s", shortOrderRef(email))
	body := "Your payment could not be processed. No charge was made."
	return m.send(ctx, email.To, subject, body)
}

type sendgridAddress struct {
	Email string `json:"email"`
}

type sendgridPersonalization struct {
	To []sendgridAddress `json:"to"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridPayload struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
}

func (m *sendgridMailer) send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient address required")
	}

	payload := sendgridPayload{
		Personalizations: []sendgridPersonalization{{To: []sendgridAddress{{Email: to}}}},
		From:             sendgridAddress{Email: m.from},
		Subject:          subject,
		Content:          []sendgridContent{{Type: "text/plain", Value: body}},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal mail payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(raw))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build mail request")
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send mail")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("sendgrid returned status %d", resp.StatusCode))
	}
	return nil
}

func shortOrderRef(email OrderEmail) string {
	id := email.OrderID.String()
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatAmount(email OrderEmail) string {
	currency := email.Currency
	if currency == "" {
		currency = "usd"
	}
	return fmt.Sprintf("%.2f %s", float64(email.AmountCents)/100, currency)
}
