package payments

import (
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

	"github.com/quillforge/quillforge/internal/pkg/env"
)

const defaultPaymentsAPIBaseURL = "https://api.payments.quillforge.dev"

// Error is a failure reported by the payments provider. The provider code
// is logged server-side; callers surface a generic message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payments provider error (status %d, code %q): %s", e.StatusCode, e.Code, e.Message)
}

// Customer is the provider's customer object.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CheckoutSession is a hosted checkout session; URL is where the browser
// gets redirected.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PortalSession is a hosted billing-portal session.
type PortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Subscription is the provider's subscription object as returned by the
// retrieve endpoint.
type Subscription struct {
	ID                 string            `json:"id"`
	CustomerID         string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// Client calls the payments provider's REST API with form-encoded bodies.
type Client struct {
	APIBaseURL string
	SecretKey  string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a client from PAYMENTS_API_BASE_URL and
// PAYMENTS_SECRET_KEY.
func NewClientFromEnv() *Client {
	return &Client{
		APIBaseURL: strings.TrimRight(env.GetEnv("PAYMENTS_API_BASE_URL", defaultPaymentsAPIBaseURL), "/"),
		SecretKey:  strings.TrimSpace(env.GetEnv("PAYMENTS_SECRET_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// GetCustomer retrieves a customer by id.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}
	var customer Customer
	if err := c.do(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID), nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindCustomerByEmail searches existing customers by exact email. Returns
// nil (no error) when the search comes back empty.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	if strings.TrimSpace(email) == "" {
		return nil, errors.New("email is required")
	}
	var out struct {
		Data []Customer `json:"data"`
	}
	query := url.Values{}
	query.Set("query", fmt.Sprintf("email:%q", email))
	if err := c.do(ctx, http.MethodGet, "/v1/customers/search?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, nil
	}
	return &out.Data[0], nil
}

// CreateCustomer creates a new customer carrying the identity subject in
// metadata for webhook correlation.
func (c *Client) CreateCustomer(ctx context.Context, email, name, subject string) (*Customer, error) {
	form := url.Values{}
	form.Set("email", strings.TrimSpace(email))
	form.Set("name", strings.TrimSpace(name))
	form.Set("metadata[identity_subject]", subject)

	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CheckoutParams describes a hosted checkout session request.
type CheckoutParams struct {
	CustomerID     string
	PriceRef       string
	Quantity       int
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	// Metadata is echoed back on checkout.session.completed and carries
	// plan/seat correlation data.
	Metadata map[string]string
}

// CreateCheckoutSession creates a hosted checkout session and returns the
// redirect URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	if p.CustomerID == "" || p.PriceRef == "" {
		return nil, errors.New("customer id and price ref are required")
	}
	if p.Quantity < 1 {
		p.Quantity = 1
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", p.CustomerID)
	form.Set("line_items[0][price]", p.PriceRef)
	form.Set("line_items[0][quantity]", strconv.Itoa(p.Quantity))
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	if p.Currency != "" {
		form.Set("currency", strings.ToLower(p.Currency))
	}
	for k, v := range p.Metadata {
		form.Set("metadata["+k+"]", v)
		form.Set("subscription_data[metadata]["+k+"]", v)
	}

	var session CheckoutSession
	if err := c.doWithIdempotency(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session, p.IdempotencyKey); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreatePortalSession creates a hosted billing-portal session for an
// existing customer.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var session PortalSession
	if err := c.do(ctx, http.MethodPost, "/v1/billing_portal/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSubscription retrieves a subscription by id.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("subscription id is required")
	}
	var sub Subscription
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	return c.doWithIdempotency(ctx, method, path, form, out, "")
}

func (c *Client) doWithIdempotency(ctx context.Context, method, path string, form url.Values, out interface{}, idempotencyKey string) error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("PAYMENTS_SECRET_KEY is not configured")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &envelope)
		return &Error{
			StatusCode: resp.StatusCode,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
