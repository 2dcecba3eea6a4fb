package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

const (
	sandboxSessionURL = "https://sandbox.sslcommerz.com/gwprocess/v4/api.php"
	liveSessionURL    = "https://securepay.sslcommerz.com/gwprocess/v4/api.php"
)

const (
	sessionStatusSuccess = "SUCCESS"
	callbackValid        = "VALID"
	callbackValidated    = "VALIDATED"

	maxAddressRunes = 100
)

var ErrMissingStoreCredentials = errors.New("payment: store id and password are required")

// Credentials identify the merchant store at the hosted gateway.
type Credentials struct {
	StoreID       string
	StorePassword string
	Sandbox       bool
}

func (c Credentials) Validate() error {
	if c.StoreID == "" || c.StorePassword == "" {
		return ErrMissingStoreCredentials
	}
	return nil
}

func (c Credentials) sessionURL() string {
	if c.Sandbox {
		return sandboxSessionURL
	}
	return liveSessionURL
}

// HostedGateway talks to an SSLCommerz-compatible hosted payment page API.
type HostedGateway struct {
	creds      Credentials
	currency   string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*HostedGateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *HostedGateway) { g.httpClient = c }
}

// WithEndpoint overrides the session API URL derived from the sandbox flag.
func WithEndpoint(endpoint string) Option {
	return func(g *HostedGateway) { g.endpoint = endpoint }
}

// NewHostedGateway creates a gateway adapter bound to already-resolved
// credentials.
func NewHostedGateway(creds Credentials, currency string, opts ...Option) *HostedGateway {
	g := &HostedGateway{
		creds:      creds,
		currency:   currency,
		endpoint:   creds.sessionURL(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     util.GetLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *HostedGateway) Cash() Confirmation {
	return Confirmation{Reference: models.PaymentReferenceCOD, Final: true}
}

type sessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

func (g *HostedGateway) BeginGatewaySession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "HostedGateway.BeginGatewaySession")
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewaySessionLatency.Observe(time.Since(start).Seconds())
	}()

	if err := req.Validate(); err != nil {
		util.GatewaySessionsTotal.WithLabelValues("invalid").Inc()
		return nil, &models.GatewaySessionError{Reason: "invalid session request", Err: err}
	}
	if err := g.creds.Validate(); err != nil {
		util.GatewaySessionsTotal.WithLabelValues("unconfigured").Inc()
		return nil, &models.GatewaySessionError{Reason: "gateway not configured", Err: err}
	}

	form := g.buildSessionForm(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &models.GatewaySessionError{Reason: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		util.GatewaySessionsTotal.WithLabelValues("unreachable").Inc()
		return nil, &models.GatewaySessionError{Reason: "gateway unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.GatewaySessionError{Reason: "failed to read response", Err: err}
	}

	if resp.StatusCode >= 400 {
		util.GatewaySessionsTotal.WithLabelValues("http_error").Inc()
		return nil, &models.GatewaySessionError{Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var parsed sessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		util.GatewaySessionsTotal.WithLabelValues("bad_response").Inc()
		return nil, &models.GatewaySessionError{Reason: "unreadable response", Err: err}
	}

	if parsed.Status != sessionStatusSuccess || parsed.GatewayPageURL == "" {
		reason := parsed.FailedReason
		if reason == "" {
			reason = "unknown error"
		}
		util.GatewaySessionsTotal.WithLabelValues("rejected").Inc()
		g.logger.Warn("Gateway rejected session",
			zap.String("tran_id", req.Token),
			zap.String("reason", reason))
		return nil, &models.GatewaySessionError{Reason: reason}
	}

	util.GatewaySessionsTotal.WithLabelValues("ok").Inc()
	return &Session{RedirectURL: parsed.GatewayPageURL, SessionKey: parsed.SessionKey}, nil
}

func (g *HostedGateway) buildSessionForm(req SessionRequest) url.Values {
	address := truncateRunes(req.Customer.Address, maxAddressRunes)
	description := req.Description
	if description == "" {
		description = req.Token
	}

	form := url.Values{}
	form.Set("store_id", g.creds.StoreID)
	form.Set("store_passwd", g.creds.StorePassword)
	form.Set("total_amount", req.Amount.StringFixed(2))
	form.Set("currency", g.currency)
	form.Set("tran_id", req.Token)
	form.Set("success_url", req.Callbacks.Success)
	form.Set("fail_url", req.Callbacks.Fail)
	form.Set("cancel_url", req.Callbacks.Cancel)
	form.Set("emi_option", "0")
	form.Set("cus_name", req.Customer.Name)
	form.Set("cus_email", req.Customer.Email)
	form.Set("cus_add1", address)
	form.Set("shipping_method", "NO")
	form.Set("product_name", description)
	form.Set("product_category", "general")
	form.Set("product_profile", "general")
	return form
}

// truncateRunes cuts s to at most n characters without splitting one.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ResolveCallback reads tran_id and status from a callback form. Any status
// other than VALID or VALIDATED is a failure verdict, and a success verdict
// must carry a val_id.
func (g *HostedGateway) ResolveCallback(form url.Values) (*CallbackResult, error) {
	token := strings.TrimSpace(form.Get("tran_id"))
	if token == "" {
		return nil, &models.MalformedCallbackError{Reason: "missing tran_id"}
	}

	orderID, err := OrderIDFromToken(token)
	if err != nil {
		return nil, err
	}

	status := strings.ToUpper(strings.TrimSpace(form.Get("status")))
	verdict := VerdictFailure
	if status == callbackValid || status == callbackValidated {
		verdict = VerdictSuccess
	}

	validationID := strings.TrimSpace(form.Get("val_id"))
	if verdict == VerdictSuccess && validationID == "" {
		return nil, &models.MalformedCallbackError{Reason: "success status without val_id"}
	}

	return &CallbackResult{
		Token:        token,
		OrderID:      orderID,
		Verdict:      verdict,
		Status:       status,
		ValidationID: validationID,
	}, nil
}
