// Package dialogflow calls the Dialogflow CX v3 REST API for intent
// detection. The caller identity and any session-parameter overrides travel
// as query parameters; the agent's returned parameter map is surfaced as the
// store's tagged-union form so handoff flags can be inspected uniformly.
package dialogflow

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/modavia/celia/internal/retry"
	"github.com/modavia/celia/internal/store"
)

type Config struct {
	Endpoint    string // e.g. https://dialogflow.googleapis.com
	Project     string
	Location    string
	AgentID     string
	Language    string
	AccessToken string // bearer token, issued by the deployment environment

	Timeout time.Duration // per attempt
	Retry   retry.Policy
}

type Client struct {
	rest *resty.Client
	cfg  Config
}

func NewClient(cfg Config) *Client {
	return &Client{
		rest: resty.New().SetBaseURL(cfg.Endpoint).SetTimeout(cfg.Timeout),
		cfg:  cfg,
	}
}

// Response is one detect-intent answer: the agent's reply text lines plus
// the full session parameter map it returned.
type Response struct {
	Texts      []string
	Parameters store.Params
}

type detectIntentRequest struct {
	QueryInput  queryInput   `json:"queryInput"`
	QueryParams *queryParams `json:"queryParams,omitempty"`
}

type queryInput struct {
	Text         textInput `json:"text"`
	LanguageCode string    `json:"languageCode"`
}

type textInput struct {
	Text string `json:"text"`
}

type queryParams struct {
	Parameters map[string]any `json:"parameters,omitempty"`
}

type detectIntentResponse struct {
	QueryResult struct {
		ResponseMessages []struct {
			Text *struct {
				Text []string `json:"text"`
			} `json:"text,omitempty"`
		} `json:"responseMessages"`
		Parameters store.Params `json:"parameters"`
	} `json:"queryResult"`
	SessionInfo *struct {
		Parameters store.Params `json:"parameters"`
	} `json:"sessionInfo,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// DetectIntent sends one (possibly aggregated) user turn to the agent.
// Overrides with a nil value are explicit parameter clears. Transient
// failures are retried per the configured policy; the last error surfaces
// after exhaustion.
func (c *Client) DetectIntent(ctx context.Context, sessionID, text, userID string, overrides map[string]any) (*Response, error) {
	req := detectIntentRequest{
		QueryInput: queryInput{
			Text:         textInput{Text: text},
			LanguageCode: c.cfg.Language,
		},
	}

	params := make(map[string]any)
	if userID != "" {
		params["user_id"] = userID
	}
	for k, v := range overrides {
		params[k] = coerceParam(v)
	}
	if len(params) > 0 {
		req.QueryParams = &queryParams{Parameters: params}
		log.Debug().Str("session_id", sessionID).Interface("overrides", overrides).Msg("dialogflow: query params set")
	}

	var out *Response
	err := retry.Do(ctx, c.cfg.Retry, IsTransient, func(ctx context.Context) error {
		resp, err := c.detectOnce(ctx, sessionID, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) detectOnce(ctx context.Context, sessionID string, req detectIntentRequest) (*Response, error) {
	var out detectIntentResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.AccessToken).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post(c.sessionPath(sessionID) + ":detectIntent")
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("detect intent: %w", err)}
	}
	if resp.IsError() {
		se := &StatusError{HTTPStatus: resp.StatusCode(), RPCStatus: rpcStatusForHTTP(resp.StatusCode())}
		if out.Error != nil {
			if out.Error.Status != "" {
				se.RPCStatus = out.Error.Status
			}
			se.Message = out.Error.Message
		}
		return nil, se
	}

	result := &Response{Parameters: store.Params{}}
	for _, m := range out.QueryResult.ResponseMessages {
		if m.Text == nil {
			continue
		}
		for _, piece := range m.Text.Text {
			if piece != "" {
				result.Texts = append(result.Texts, piece)
			}
		}
	}
	for k, v := range out.QueryResult.Parameters {
		result.Parameters[k] = v
	}
	if out.SessionInfo != nil {
		for k, v := range out.SessionInfo.Parameters {
			result.Parameters[k] = v
		}
	}
	return result, nil
}

func (c *Client) sessionPath(sessionID string) string {
	return fmt.Sprintf("/v3/projects/%s/locations/%s/agents/%s/sessions/%s",
		c.cfg.Project, c.cfg.Location, c.cfg.AgentID, sessionID)
}

// coerceParam mirrors the wire coercion the agent expects: nulls and bools
// pass through, everything else is sent as a string.
func coerceParam(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		return t
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
