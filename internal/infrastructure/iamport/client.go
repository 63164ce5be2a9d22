package iamport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"auction-settlement/internal/domain"
	"auction-settlement/pkg/logger"
)

// Client charges stored billing keys via the Iamport "again" API
// (non-interactive payment against a customer_uid registered by the app's
// payment-method flow).
//
// Declines, timeouts and transport failures all come back as a structured
// ChargeResult so the settlement loop can move on to the next bidder; an
// error return means the call never made sense (bad URL, marshalling).
type Client struct {
	baseURL    *url.URL
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	log        logger.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(baseURL, apiKey, apiSecret string, timeout time.Duration, log logger.Logger) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse iamport url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("iamport url must be absolute")
	}

	return &Client{
		baseURL:   parsed,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}, nil
}

type tokenRequest struct {
	ImpKey    string `json:"imp_key"`
	ImpSecret string `json:"imp_secret"`
}

type tokenResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Response struct {
		AccessToken string `json:"access_token"`
		ExpiredAt   int64  `json:"expired_at"`
	} `json:"response"`
}

type chargeRequest struct {
	CustomerUID string `json:"customer_uid"`
	MerchantUID string `json:"merchant_uid"`
	Amount      int64  `json:"amount"`
	Name        string `json:"name"`
}

type chargeResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Response struct {
		ImpUID      string `json:"imp_uid"`
		MerchantUID string `json:"merchant_uid"`
		Status      string `json:"status"`
		FailReason  string `json:"fail_reason"`
	} `json:"response"`
}

func (c *Client) Charge(ctx context.Context, customerUID, merchantUID string, amount int64, name string) (*domain.ChargeResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		// No token means no charge was attempted; report as a failed attempt
		// so settlement falls through to the next bidder.
		c.log.Warn("Failed to acquire gateway token", "error", err)
		return &domain.ChargeResult{Paid: false, Reason: fmt.Sprintf("token: %v", err)}, nil
	}

	body, err := json.Marshal(chargeRequest{
		CustomerUID: customerUID,
		MerchantUID: merchantUID,
		Amount:      amount,
		Name:        name,
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.endpoint("/subscribe/payments/again")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures count as charge failures; the
		// charge may or may not have landed, which is why merchant_uid is
		// never reused for the retry against the next bidder.
		return &domain.ChargeResult{Paid: false, Reason: fmt.Sprintf("gateway unreachable: %v", err)}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ChargeResult{Paid: false, Reason: fmt.Sprintf("gateway read: %v", err)}, nil
	}

	var data chargeResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return &domain.ChargeResult{Paid: false, Reason: fmt.Sprintf("gateway response malformed: %v", err)}, nil
	}

	if resp.StatusCode != http.StatusOK || data.Code != 0 {
		reason := data.Message
		if reason == "" {
			reason = resp.Status
		}
		return &domain.ChargeResult{Paid: false, Reason: reason}, nil
	}

	if data.Response.Status == "paid" {
		return &domain.ChargeResult{Paid: true}, nil
	}

	reason := data.Response.FailReason
	if reason == "" {
		reason = data.Response.Status
	}
	return &domain.ChargeResult{Paid: false, Reason: reason}, nil
}

// accessToken returns a cached API token, refreshing it when expired.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, err := json.Marshal(tokenRequest{ImpKey: c.apiKey, ImpSecret: c.apiSecret})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/users/getToken"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var data tokenResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK || data.Code != 0 {
		return "", fmt.Errorf("token request rejected: %s", data.Message)
	}

	c.token = data.Response.AccessToken
	// Refresh one minute ahead of the reported expiry
	c.tokenExpiry = time.Unix(data.Response.ExpiredAt, 0).Add(-time.Minute)

	return c.token, nil
}

func (c *Client) endpoint(p string) string {
	endpoint := *c.baseURL
	endpoint.Path = endpoint.Path + p
	return endpoint.String()
}
