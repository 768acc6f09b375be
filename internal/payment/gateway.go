package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/reelstat/internal/flexjson"
)

// DefaultGatewayURL is the production acquiring API root.
const DefaultGatewayURL = "https://securepay.tinkoff.ru/v2/"

// InitRequest describes a new payment. Amount is in kopecks.
type InitRequest struct {
	Amount          int64
	OrderID         string
	Description     string
	Data            map[string]string
	NotificationURL string
	SuccessURL      string
	FailURL         string
}

// Response is the common envelope of gateway replies.
type Response struct {
	Success     bool            `json:"Success"`
	ErrorCode   string          `json:"ErrorCode"`
	Message     string          `json:"Message"`
	Details     string          `json:"Details"`
	TerminalKey string          `json:"TerminalKey"`
	Status      string          `json:"Status"`
	PaymentID   flexjson.String `json:"PaymentId"`
	OrderID     string          `json:"OrderId"`
	Amount      int64           `json:"Amount"`
	PaymentURL  string          `json:"PaymentURL"`
}

// GatewayError is a reply with Success=false.
type GatewayError struct {
	Method  string
	Code    string
	Message string
	Details string
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Details
	}
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("gateway %s failed (code %s): %s", e.Method, e.Code, msg)
}

// Gateway is the acquiring API used by the Reconciler.
type Gateway interface {
	Init(ctx context.Context, req InitRequest) (*Response, error)
	GetState(ctx context.Context, paymentID string) (*Response, error)
}

// GatewayConfig holds terminal credentials.
type GatewayConfig struct {
	BaseURL     string
	TerminalKey string
	Password    string
}

// HTTPGateway talks to the acquiring API over JSON POSTs.
type HTTPGateway struct {
	config GatewayConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPGateway creates an HTTPGateway. A nil client gets a 15 second timeout.
func NewHTTPGateway(config GatewayConfig, client *http.Client, logger *slog.Logger) *HTTPGateway {
	if config.BaseURL == "" {
		config.BaseURL = DefaultGatewayURL
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPGateway{
		config: config,
		client: client,
		logger: logger.With("component", "payment_gateway"),
	}
}

func (g *HTTPGateway) Init(ctx context.Context, req InitRequest) (*Response, error) {
	params := map[string]any{
		"Amount":      req.Amount,
		"OrderId":     req.OrderID,
		"Description": req.Description,
	}
	if len(req.Data) > 0 {
		params["DATA"] = req.Data
	}
	if req.NotificationURL != "" {
		params["NotificationURL"] = req.NotificationURL
	}
	if req.SuccessURL != "" {
		params["SuccessURL"] = req.SuccessURL
	}
	if req.FailURL != "" {
		params["FailURL"] = req.FailURL
	}
	return g.post(ctx, "Init", params)
}

func (g *HTTPGateway) GetState(ctx context.Context, paymentID string) (*Response, error) {
	return g.post(ctx, "GetState", map[string]any{"PaymentId": paymentID})
}

func (g *HTTPGateway) post(ctx context.Context, method string, params map[string]any) (*Response, error) {
	params["TerminalKey"] = g.config.TerminalKey
	params[tokenField] = Sign(params, g.config.Password)

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway %s: unexpected status %d", method, resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !out.Success {
		g.logger.Warn("Gateway call rejected",
			"method", method,
			"error_code", out.ErrorCode,
			"message", out.Message,
		)
		return &out, &GatewayError{Method: method, Code: out.ErrorCode, Message: out.Message, Details: out.Details}
	}
	return &out, nil
}

