// Package payment предоставляет клиент платёжного шлюза и проверку подписей его обратных вызовов.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayUnavailable возвращается при сетевой ошибке, ошибке авторизации или таймауте шлюза.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidAmount возвращается для неположительной суммы или суммы с долями минимальной единицы.
	ErrInvalidAmount = errors.New("invalid payment amount")
	// ErrUnknownOrder возвращается, если шлюз не знает заказа с указанным идентификатором.
	ErrUnknownOrder = errors.New("unknown gateway order")
)

const defaultTimeout = 10 * time.Second

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// RemoteOrder описывает заказ, созданный на стороне шлюза.
type RemoteOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key"`
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// NewClient создаёт клиент шлюза по указанному адресу и ключам доступа.
func NewClient(baseURL, keyID, keySecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateRemoteOrder создаёт заказ на стороне шлюза. Сумма передаётся в минимальных единицах валюты.
func (c *Client) CreateRemoteOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*RemoteOrder, error) {
	if amountMinor <= 0 {
		return nil, ErrInvalidAmount
	}

	body, err := json.Marshal(createOrderRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return c.do(ctx, http.MethodPost, "/v1/orders", body)
}

// GetRemoteOrder запрашивает у шлюза ранее созданный заказ.
func (c *Client) GetRemoteOrder(ctx context.Context, id string) (*RemoteOrder, error) {
	if id == "" {
		return nil, ErrUnknownOrder
	}
	return c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(id), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*RemoteOrder, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: client not configured", ErrGatewayUnavailable)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return nil, ErrUnknownOrder
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var result RemoteOrder
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrGatewayUnavailable)
	}
	result.KeyID = c.keyID

	return &result, nil
}

// VerifyCallback проверяет подпись обратного вызова шлюза. Любой сбой трактуется как непрошедшая проверка.
func (c *Client) VerifyCallback(orderID, paymentID, signature string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return VerifySignature(orderID, paymentID, signature, c.keySecret)
}

// ToMinorUnits переводит сумму в минимальные единицы валюты (например, пайсы).
// Доли минимальной единицы не отбрасываются, а считаются ошибкой.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(2)
	if !minor.IsInteger() || !minor.IsPositive() || minor.GreaterThan(maxMinor) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}
