package attest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gematik/zero-pop/pkg"
	"github.com/gematik/zero-pop/pkg/util"
)

const maxResponseSize = 64 * 1024

type ChallengeResponse struct {
	Nonce string `json:"nonce"`
}

type SubmissionResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Submission is the verifier's answer to a submitted token.
type Submission struct {
	StatusCode int
	Status     string
	Error      string
	Thumbprint string
}

func (s *Submission) Success() bool {
	return s.StatusCode >= 200 && s.StatusCode < 300
}

// Client is the holder side of the protocol.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "zero-pop/" + pkg.Version,
	}
	for _, opt := range opts {
		opt(c)
	}
	// copy, the caller's client stays untouched
	httpClient := *c.httpClient
	httpClient.Transport = util.AddUserAgentTransport(httpClient.Transport, c.userAgent)
	c.httpClient = &httpClient
	return c
}

// Prove fetches a challenge, signs it with a fresh key and submits the
// token once. Any HTTP answer to the submission is returned as Submission;
// only transport failures are errors.
func (c *Client) Prove(ctx context.Context, challengeURL, submitURL string) (*Submission, error) {
	nonceStr, err := c.FetchChallenge(ctx, challengeURL)
	if err != nil {
		return nil, err
	}

	privateKey, err := NewPrivateKey()
	if err != nil {
		return nil, err
	}

	token, err := NewToken(nonceStr)
	if err != nil {
		return nil, err
	}

	signed, err := SignToken(token, privateKey)
	if err != nil {
		return nil, err
	}
	slog.Debug("signed attestation", "token", util.JWSToText(signed), "thumbprint", privateKey.Thumbprint)

	submission, err := c.Submit(ctx, submitURL, signed)
	if err != nil {
		return nil, err
	}
	submission.Thumbprint = privateKey.Thumbprint
	slog.Info("Verification response", "status", submission.StatusCode, "error", submission.Error)
	return submission, nil
}

func (c *Client) FetchChallenge(ctx context.Context, challengeURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, challengeURL, nil)
	if err != nil {
		return "", newError(KindChallengeFetchFailed, "unable to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", newError(KindChallengeFetchFailed, "unable to fetch challenge", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newError(KindChallengeFetchFailed, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var challenge ChallengeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&challenge); err != nil {
		return "", newError(KindChallengeFetchFailed, "unable to decode challenge", err)
	}
	if challenge.Nonce == "" {
		return "", newError(KindChallengeFetchFailed, "nonce field missing", nil)
	}
	return challenge.Nonce, nil
}

func (c *Client) Submit(ctx context.Context, submitURL, token string) (*Submission, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, strings.NewReader(token))
	if err != nil {
		return nil, newError(KindSubmissionFailed, "unable to create request", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(KindSubmissionFailed, "unable to submit token", err)
	}
	defer resp.Body.Close()

	submission := &Submission{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, newError(KindSubmissionFailed, "unable to read response", err)
	}
	var decoded SubmissionResponse
	if err := json.Unmarshal(body, &decoded); err == nil {
		submission.Status = decoded.Status
		submission.Error = decoded.Error
	} else if !submission.Success() {
		submission.Error = strings.TrimSpace(string(body))
	}
	return submission, nil
}
