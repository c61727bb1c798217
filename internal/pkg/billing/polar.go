package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/SaaSBase/internal/pkg/env"
)

const (
	defaultPolarAPIBaseURL = "https://api.polar.sh/v1"
	sandboxPolarAPIBaseURL = "https://sandbox-api.polar.sh/v1"
)

// Provider is the billing-provider surface consumed by the service.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	UncancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	RevokeSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	ListSubscriptions(ctx context.Context, page, limit int) ([]ProviderSubscription, error)
}

type PolarClient struct {
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client
}

func NewPolarClientFromEnv() *PolarClient {
	base := defaultPolarAPIBaseURL
	if strings.EqualFold(strings.TrimSpace(env.GetEnv("POLAR_ENVIRONMENT", "production")), "sandbox") {
		base = sandboxPolarAPIBaseURL
	}

	return &PolarClient{
		AccessToken: strings.TrimSpace(env.GetEnv("POLAR_ACCESS_TOKEN", "")),
		APIBaseURL:  strings.TrimSpace(env.GetEnv("POLAR_API_BASE_URL", base)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type polarProduct struct {
	ID string `json:"id"`
}

type polarSubscription struct {
	ID                 string         `json:"id"`
	Status             string         `json:"status"`
	ProductID          string         `json:"product_id"`
	CustomerID         string         `json:"customer_id"`
	CurrentPeriodStart string         `json:"current_period_start"`
	CurrentPeriodEnd   string         `json:"current_period_end"`
	StartedAt          string         `json:"started_at"`
	EndsAt             string         `json:"ends_at"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	CanceledAt         string         `json:"canceled_at"`
	Metadata           map[string]any `json:"metadata"`
	Product            *polarProduct  `json:"product"`
}

func (p polarSubscription) normalize() ProviderSubscription {
	out := ProviderSubscription{
		ID:                 strings.TrimSpace(p.ID),
		Status:             strings.TrimSpace(p.Status),
		ProductID:          strings.TrimSpace(p.ProductID),
		CustomerID:         strings.TrimSpace(p.CustomerID),
		CurrentPeriodStart: firstTime(p.CurrentPeriodStart, p.StartedAt),
		CurrentPeriodEnd:   firstTime(p.CurrentPeriodEnd, p.EndsAt),
		CancelAtPeriodEnd:  p.CancelAtPeriodEnd,
		CanceledAt:         firstTime(p.CanceledAt),
		Metadata:           stringMap(p.Metadata),
	}
	// Some responses only embed the product object.
	if out.ProductID == "" && p.Product != nil {
		out.ProductID = strings.TrimSpace(p.Product.ID)
	}
	return out
}

func (c *PolarClient) CreateCheckout(ctx context.Context, in CheckoutRequest) (*Checkout, error) {
	if strings.TrimSpace(in.ProductID) == "" {
		return nil, errors.New("product id is required")
	}
	body := map[string]any{
		"products": []string{in.ProductID},
		"metadata": in.Metadata,
	}
	if in.SuccessURL != "" {
		body["success_url"] = in.SuccessURL
	}
	if in.CustomerEmail != "" {
		body["customer_email"] = in.CustomerEmail
	}

	var out Checkout
	if err := c.do(ctx, http.MethodPost, "/checkouts/", nil, body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.URL) == "" {
		return nil, errors.New("polar checkout response missing url")
	}
	return &out, nil
}

func (c *PolarClient) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	return c.subscriptionRequest(ctx, http.MethodGet, subscriptionID, nil)
}

// CancelSubscription schedules cancellation at the end of the current period.
func (c *PolarClient) CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	return c.subscriptionRequest(ctx, http.MethodPatch, subscriptionID, map[string]any{"cancel_at_period_end": true})
}

func (c *PolarClient) UncancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	return c.subscriptionRequest(ctx, http.MethodPatch, subscriptionID, map[string]any{"cancel_at_period_end": false})
}

// RevokeSubscription ends the subscription immediately.
func (c *PolarClient) RevokeSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	return c.subscriptionRequest(ctx, http.MethodDelete, subscriptionID, nil)
}

func (c *PolarClient) ListSubscriptions(ctx context.Context, page, limit int) ([]ProviderSubscription, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 100
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var raw struct {
		Items []polarSubscription `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/subscriptions/", q, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]ProviderSubscription, 0, len(raw.Items))
	for _, item := range raw.Items {
		out = append(out, item.normalize())
	}
	return out, nil
}

func (c *PolarClient) subscriptionRequest(ctx context.Context, method, subscriptionID string, body any) (*ProviderSubscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	var raw polarSubscription
	if err := c.do(ctx, method, "/subscriptions/"+url.PathEscape(id), nil, body, &raw); err != nil {
		return nil, err
	}
	sub := raw.normalize()
	if sub.ID == "" {
		sub.ID = id
	}
	return &sub, nil
}

func (c *PolarClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return ErrProviderNotConfigured
	}

	u, err := url.Parse(strings.TrimRight(c.APIBaseURL, "/") + path)
	if err != nil {
		return fmt.Errorf("invalid POLAR_API_BASE_URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: polarErrorMessage(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// polarErrorMessage extracts "detail" from an error body, which is either a
// string or a list of validation errors.
func polarErrorMessage(body []byte) string {
	var raw struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return strings.TrimSpace(string(body))
	}
	var detail string
	if err := json.Unmarshal(raw.Detail, &detail); err == nil && detail != "" {
		return detail
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw.Detail, &list); err == nil && len(list) > 0 {
		msgs := make([]string, 0, len(list))
		for _, item := range list {
			msgs = append(msgs, item.Msg)
		}
		return strings.Join(msgs, "; ")
	}
	if raw.Error != "" {
		return raw.Error
	}
	return strings.TrimSpace(string(body))
}

func stringMap(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s := stringValue(v); s != "" {
			out[k] = s
		}
	}
	return out
}
