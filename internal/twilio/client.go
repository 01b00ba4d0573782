package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/modavia/celia/internal/retry"
)

const apiBase = "https://api.twilio.com/2010-04-01"

// transportError marks failures that never reached the API (timeouts,
// connection resets, TLS problems). Only these are worth retrying: an HTTP
// error response means Twilio made a decision and will make it again.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// IsTransient reports whether a send error is a retryable transport failure.
func IsTransient(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

type Client struct {
	rest    *resty.Client
	baseURL string

	accountSID       string
	authToken        string
	from             string
	messagingService string

	policy retry.Policy
}

func NewClient(accountSID, authToken, from, messagingService string, timeout time.Duration, policy retry.Policy) *Client {
	return &Client{
		rest:             resty.New().SetTimeout(timeout),
		baseURL:          apiBase,
		accountSID:       accountSID,
		authToken:        authToken,
		from:             from,
		messagingService: messagingService,
		policy:           policy,
	}
}

type sendResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// SendText delivers a WhatsApp text message, retrying transport failures
// with backoff. The destination may be an E.164 number or a whatsapp: URI.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if c.accountSID == "" || c.authToken == "" {
		return errors.New("twilio REST credentials not configured")
	}
	if c.messagingService == "" && c.from == "" {
		return errors.New("neither TWILIO_MESSAGING_SERVICE_SID nor TWILIO_WHATSAPP_FROM configured")
	}

	data := map[string]string{
		"To":   asWhatsApp(to),
		"Body": body,
	}
	if c.messagingService != "" {
		data["MessagingServiceSid"] = c.messagingService
	} else {
		data["From"] = asWhatsApp(c.from)
	}

	return retry.Do(ctx, c.policy, IsTransient, func(ctx context.Context) error {
		sid, err := c.postMessage(ctx, data)
		if err != nil {
			return err
		}
		log.Info().Str("sid", sid).Str("to", data["To"]).Msg("twilio: message sent")
		return nil
	})
}

// SendTemplate delivers a pre-approved content template, used for
// operator-initiated re-engagement outside the 24h session window.
func (c *Client) SendTemplate(ctx context.Context, to, contentSID string, vars map[string]string) error {
	if contentSID == "" {
		return errors.New("contentSID is required")
	}
	encoded, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("encoding content variables: %w", err)
	}

	data := map[string]string{
		"To":               asWhatsApp(to),
		"ContentSid":       contentSID,
		"ContentVariables": string(encoded),
	}
	if c.messagingService != "" {
		data["MessagingServiceSid"] = c.messagingService
	} else if c.from != "" {
		data["From"] = asWhatsApp(c.from)
	} else {
		return errors.New("neither TWILIO_MESSAGING_SERVICE_SID nor TWILIO_WHATSAPP_FROM configured")
	}

	return retry.Do(ctx, c.policy, IsTransient, func(ctx context.Context) error {
		sid, err := c.postMessage(ctx, data)
		if err != nil {
			return err
		}
		log.Info().Str("sid", sid).Str("content_sid", contentSID).Str("to", data["To"]).Msg("twilio: template sent")
		return nil
	})
}

func (c *Client) postMessage(ctx context.Context, data map[string]string) (string, error) {
	var out sendResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBasicAuth(c.accountSID, c.authToken).
		SetFormData(data).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID))
	if err != nil {
		return "", &transportError{err: fmt.Errorf("twilio send: %w", err)}
	}
	if resp.IsError() {
		return "", fmt.Errorf("twilio send: http %d code %d: %s", resp.StatusCode(), out.Code, out.Message)
	}
	return out.SID, nil
}

// DownloadMedia fetches a Twilio-hosted media object with basic auth.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	if mediaURL == "" {
		return nil, errors.New("empty media url")
	}
	if c.accountSID == "" || c.authToken == "" {
		return nil, errors.New("twilio REST credentials not configured")
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBasicAuth(c.accountSID, c.authToken).
		Get(mediaURL)
	if err != nil {
		return nil, fmt.Errorf("downloading media: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("downloading media: http %d", resp.StatusCode())
	}

	content := resp.Body()
	if len(content) < 64 {
		return nil, fmt.Errorf("media content too small: %d bytes", len(content))
	}
	return content, nil
}

func asWhatsApp(addr string) string {
	if strings.HasPrefix(addr, "whatsapp:") {
		return addr
	}
	return "whatsapp:" + addr
}
