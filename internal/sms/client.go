// Package sms delivers OTP codes through a 2factor-style HTTP gateway.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labbooking/server/internal/config"
	"github.com/labbooking/server/internal/logging"
)

// Client sends OTP SMS. In dry-run mode nothing leaves the process.
type Client struct {
	apiKey   string
	baseURL  string
	template string
	dryRun   bool
	http     *http.Client
	log      logging.Logger
}

// gatewayResponse is the gateway's JSON reply, e.g. {"Status":"Success","Details":"<session id>"}
type gatewayResponse struct {
	Status  string `json:"Status"`
	Details string `json:"Details"`
}

// NewClient creates an SMS client from configuration
func NewClient(cfg config.SMSConfig, log logging.Logger) *Client {
	return &Client{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		template: cfg.Template,
		dryRun:   cfg.DryRun || cfg.APIKey == "",
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      log.With("component", "sms"),
	}
}

// DryRun reports whether messages are only logged
func (c *Client) DryRun() bool {
	return c.dryRun
}

// SendOTP sends code to phone using the configured template
func (c *Client) SendOTP(ctx context.Context, phone, code string) error {
	if c.dryRun {
		c.log.Info(ctx, "sms dry run", "phone", logging.MaskPhone(phone))
		c.log.Debug(ctx, "sms dry run code", "phone", logging.MaskPhone(phone), "code", code)
		return nil
	}

	endpoint := fmt.Sprintf("%s/%s/SMS/%s/%s/%s",
		c.baseURL,
		url.PathEscape(c.apiKey),
		url.PathEscape(phone),
		url.PathEscape(code),
		url.PathEscape(c.template),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// the request URL carries the API key, keep it out of the error
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read sms response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	var result gatewayResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parse sms response: %w", err)
	}
	if !strings.EqualFold(result.Status, "Success") {
		return fmt.Errorf("sms gateway error: %s", result.Details)
	}

	c.log.Info(ctx, "otp sms sent", "phone", logging.MaskPhone(phone), "session", result.Details)
	return nil
}
