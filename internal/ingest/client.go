package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retry "github.com/codeGROOVE-dev/retry-go"
	"github.com/rs/zerolog"

	"github.com/zkconnect/zkconnect-bridge/internal/models"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// maxBodyLog caps how much of a response body is kept for logging.
	maxBodyLog = 2048
)

// Token is the short-lived session credential obtained from the remote API.
// It is fetched fresh for every transmission; the cookie carries no TTL the
// client could trust.
type Token struct {
	Cookie string
}

// Authenticator exchanges fixed credentials for a session token.
type Authenticator interface {
	Authenticate(ctx context.Context) (Token, error)
}

// Sender posts one punch to the ingestion endpoint. All outcomes are
// returned, never propagated as errors.
type Sender interface {
	Send(ctx context.Context, ev models.PunchEvent, identity models.DeviceIdentity, token Token) models.TransmissionOutcome
}

// AuthError reports a failure to obtain a session token. Rejected
// distinguishes credential rejection from transport failure.
type AuthError struct {
	Rejected bool
	Status   int
	Body     string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("authentication rejected: status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("authentication transport failure: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Options configures the ingestion client.
type Options struct {
	BaseURL    string
	AuthPath   string
	IngestPath string
	Login      string
	Password   string
	DB         string
	Timeout    time.Duration

	// SendAttempts bounds the retries of one transmission. 1 preserves
	// the single-attempt baseline; higher values apply exponential
	// backoff between InitialBackoff and MaxBackoff. Only transport
	// failures are retried, rejections are final.
	SendAttempts   uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger zerolog.Logger
}

// Client talks to the remote ingestion API: session authentication plus
// punch transmission.
type Client struct {
	opts Options
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates an ingestion client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	if opts.SendAttempts == 0 {
		opts.SendAttempts = 1
	}

	return &Client{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
		log:  opts.Logger,
	}
}

type authRequest struct {
	Params authParams `json:"params"`
}

type authParams struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

// Authenticate posts the pre-shared credentials and returns the session
// cookie the next ingestion call must carry.
func (c *Client) Authenticate(ctx context.Context) (Token, error) {
	body, err := json.Marshal(authRequest{Params: authParams{
		Login:    c.opts.Login,
		Password: c.opts.Password,
		DB:       c.opts.DB,
	}})
	if err != nil {
		return Token{}, &AuthError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+c.opts.AuthPath, bytes.NewReader(body))
	if err != nil {
		return Token{}, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Token{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, &AuthError{
			Rejected: true,
			Status:   resp.StatusCode,
			Body:     readBody(resp.Body),
		}
	}

	cookie := resp.Header.Get("Set-Cookie")
	if cookie == "" {
		return Token{}, &AuthError{
			Rejected: true,
			Status:   resp.StatusCode,
			Body:     "response carries no session cookie",
		}
	}

	c.log.Debug().Msg("session token obtained")

	return Token{Cookie: cookie}, nil
}

type ingestRequest struct {
	Params ingestParams `json:"params"`
}

type ingestParams struct {
	Data punchPayload `json:"data"`
}

type punchPayload struct {
	UserID    string `json:"user_id"`
	Punch     uint8  `json:"punch"`
	Timestamp string `json:"timestamp"`
	Status    uint8  `json:"status"`
	MachineID int    `json:"zk_machine_id"`
}

type ingestResponse struct {
	Message string `json:"message"`
	Log     string `json:"log"`
}

// Send posts one punch with the session cookie attached. Non-2xx responses
// are Rejected, network failures TransportFailed; nothing escapes as an
// error past this boundary.
func (c *Client) Send(ctx context.Context, ev models.PunchEvent, identity models.DeviceIdentity, token Token) models.TransmissionOutcome {
	body, err := json.Marshal(ingestRequest{Params: ingestParams{Data: punchPayload{
		UserID:    ev.UserID,
		Punch:     uint8(ev.Punch),
		Timestamp: ev.TimestampUTC(),
		Status:    ev.Status,
		MachineID: identity.MachineID,
	}}})
	if err != nil {
		return models.TransmissionOutcome{Kind: models.OutcomeTransportFailed, Cause: err}
	}

	var outcome models.TransmissionOutcome
	err = retry.Do(func() error {
		outcome = c.send(ctx, body, token)
		if outcome.Kind == models.OutcomeTransportFailed {
			return outcome.Cause
		}
		return nil
	}, retry.Attempts(c.opts.SendAttempts), retry.Delay(c.opts.InitialBackoff), retry.MaxDelay(c.opts.MaxBackoff))
	if err != nil {
		c.log.Error().Err(err).Str("userId", ev.UserID).Msg("transmission failed after all attempts")
	}

	return outcome
}

func (c *Client) send(ctx context.Context, body []byte, token Token) models.TransmissionOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+c.opts.IngestPath, bytes.NewReader(body))
	if err != nil {
		return models.TransmissionOutcome{Kind: models.OutcomeTransportFailed, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", token.Cookie)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.TransmissionOutcome{Kind: models.OutcomeTransportFailed, Cause: err}
	}
	defer resp.Body.Close()

	respBody := readBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("body", respBody).
			Msg("ingestion endpoint rejected punch")
		return models.TransmissionOutcome{
			Kind:       models.OutcomeRejected,
			HTTPStatus: resp.StatusCode,
			Body:       respBody,
		}
	}

	var parsed ingestResponse
	if err := json.Unmarshal([]byte(respBody), &parsed); err == nil {
		c.log.Debug().
			Str("message", parsed.Message).
			Str("log", parsed.Log).
			Msg("punch delivered")
	}

	return models.TransmissionOutcome{
		Kind:       models.OutcomeDelivered,
		HTTPStatus: resp.StatusCode,
		Body:       respBody,
	}
}

func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxBodyLog))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
