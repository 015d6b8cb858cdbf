// Package remote implements the HTTP client for the proctoring provider's
// simple-integration API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/edulab/proctor-bridge/internal/config"
)

// tokenTTL bounds every outbound request token. The provider rejects
// anything older, which limits replay exposure.
const tokenTTL = 30 * time.Second

// Client talks to the provider's integration endpoints. All requests carry
// a short-lived HS256 token in an `Authorization: JWT <token>` header.
type Client struct {
	baseURL     string
	integration string
	secret      []byte
	http        *http.Client
	log         zerolog.Logger
	now         func() time.Time
}

// NewClient creates a provider client from configuration. A RemoteHost
// already carrying a scheme is used verbatim, which lets tests point the
// client at a local server.
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	base := cfg.RemoteHost
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		baseURL:     strings.TrimRight(base, "/"),
		integration: cfg.RemoteIntegration,
		secret:      []byte(cfg.RemoteJWTSecret),
		http:        &http.Client{Timeout: cfg.RemoteTimeout},
		log:         log.With().Str("component", "remote_client").Logger(),
		now:         time.Now,
	}
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/api/v2/integration/simple/%s/%s/", c.baseURL, c.integration, method)
}

func (c *Client) token() (string, error) {
	claims := jwt.MapClaims{
		"exp": c.now().Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *Client) post(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	token, err := c.token()
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	req.Header.Set("Authorization", "JWT "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s request: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	c.log.Debug().Str("method", method).Int("status", resp.StatusCode).Msg("Provider call succeeded")
	return nil
}

// PushExam sends one exam configuration payload to the provider.
func (c *Client) PushExam(ctx context.Context, payload map[string]any) error {
	return c.post(ctx, "exams", payload)
}

// FinishSession tells the provider a session is over and where the
// learner should land afterwards.
func (c *Client) FinishSession(ctx context.Context, accessCode, redirectURL string) error {
	return c.post(ctx, "finish", map[string]any{
		"sessionId":   accessCode,
		"redirectUrl": redirectURL,
	})
}

// FinishURL builds the user-facing finish page URL that walks the learner
// out of the proctored session and back to the platform.
func (c *Client) FinishURL(accessCode, redirectURL string) string {
	return fmt.Sprintf("%s/%s/finish/%s/?redirectUrl=%s",
		c.baseURL, c.integration, accessCode, url.QueryEscape(redirectURL))
}

// VerifyCallbackToken validates an inbound callback token signed with the
// integration secret.
func (c *Client) VerifyCallbackToken(token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwt.ErrTokenUnverifiable
	}
	return nil
}
