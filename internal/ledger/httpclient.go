package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/registerlabs/ledgerflow/model"
)

// httpDoer executes prepared requests; *http.Client satisfies it.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// HTTPRegisterClient is a RegisterClient over the register service's REST
// surface.
type HTTPRegisterClient struct {
	baseURL string
	client  httpDoer
}

// NewHTTPRegisterClient creates a register client for the given base URL.
func NewHTTPRegisterClient(baseURL string, timeout time.Duration) *HTTPRegisterClient {
	return &HTTPRegisterClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

// GetTransactionsByInstanceID implements RegisterClient.
func (c *HTTPRegisterClient) GetTransactionsByInstanceID(ctx context.Context, registerID, instanceID string) ([]Transaction, error) {
	u := fmt.Sprintf("%s/registers/%s/transactions?instanceId=%s",
		c.baseURL, url.PathEscape(registerID), url.QueryEscape(instanceID))
	var txs []Transaction
	if err := c.getJSON(ctx, u, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// GetTransaction implements RegisterClient.
func (c *HTTPRegisterClient) GetTransaction(ctx context.Context, registerID, txID string) (Transaction, error) {
	u := fmt.Sprintf("%s/registers/%s/transactions/%s",
		c.baseURL, url.PathEscape(registerID), url.PathEscape(txID))
	var tx Transaction
	if err := c.getJSON(ctx, u, &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Submit implements RegisterClient.
func (c *HTTPRegisterClient) Submit(ctx context.Context, submission NetworkSubmission) error {
	u := fmt.Sprintf("%s/registers/%s/transactions", c.baseURL, url.PathEscape(submission.RegisterID))
	return c.postJSON(ctx, u, submission, nil)
}

// PublishBlueprint implements RegisterClient.
func (c *HTTPRegisterClient) PublishBlueprint(ctx context.Context, registerID, blueprintID string, payload []byte, actor string) error {
	u := fmt.Sprintf("%s/registers/%s/blueprints", c.baseURL, url.PathEscape(registerID))
	body := map[string]any{
		"blueprint_id": blueprintID,
		"payload":      payload,
		"actor":        actor,
	}
	return c.postJSON(ctx, u, body, nil)
}

func (c *HTTPRegisterClient) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("register: build request: %w", err)
	}
	return doJSON(c.client, req, "register", out)
}

func (c *HTTPRegisterClient) postJSON(ctx context.Context, u string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("register: marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("register: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(c.client, req, "register", out)
}

// HTTPWalletClient is a WalletClient over the wallet service's REST surface.
type HTTPWalletClient struct {
	baseURL string
	client  httpDoer
}

// NewHTTPWalletClient creates a wallet client for the given base URL.
func NewHTTPWalletClient(baseURL string, timeout time.Duration) *HTTPWalletClient {
	return &HTTPWalletClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

type walletCryptRequest struct {
	Data            []byte `json:"data"`
	DelegationToken string `json:"delegation_token,omitempty"`
}

type walletCryptResponse struct {
	Data []byte `json:"data"`
}

// EncryptPayload implements WalletClient.
func (c *HTTPWalletClient) EncryptPayload(ctx context.Context, wallet string, plaintext []byte) ([]byte, error) {
	return c.crypt(ctx, wallet, "encrypt", walletCryptRequest{Data: plaintext})
}

// DecryptPayload implements WalletClient.
func (c *HTTPWalletClient) DecryptPayload(ctx context.Context, wallet string, ciphertext []byte) ([]byte, error) {
	return c.crypt(ctx, wallet, "decrypt", walletCryptRequest{Data: ciphertext})
}

// DecryptWithDelegation implements WalletClient.
func (c *HTTPWalletClient) DecryptWithDelegation(ctx context.Context, wallet string, ciphertext []byte, delegationToken string) ([]byte, error) {
	return c.crypt(ctx, wallet, "decrypt", walletCryptRequest{Data: ciphertext, DelegationToken: delegationToken})
}

func (c *HTTPWalletClient) crypt(ctx context.Context, wallet, op string, body walletCryptRequest) ([]byte, error) {
	u := fmt.Sprintf("%s/wallets/%s/%s", c.baseURL, url.PathEscape(wallet), op)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wallet: marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("wallet: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var resp walletCryptResponse
	if err := doJSON(c.client, req, "wallet", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Sign implements WalletClient.
func (c *HTTPWalletClient) Sign(ctx context.Context, wallet string, payload []byte) (SignResult, error) {
	u := fmt.Sprintf("%s/wallets/%s/sign", c.baseURL, url.PathEscape(wallet))
	raw, err := json.Marshal(walletCryptRequest{Data: payload})
	if err != nil {
		return SignResult{}, fmt.Errorf("wallet: marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return SignResult{}, fmt.Errorf("wallet: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var result SignResult
	if err := doJSON(c.client, req, "wallet", &result); err != nil {
		return SignResult{}, err
	}
	return result, nil
}

// doJSON executes the request and decodes a JSON response body into out
// (when out is non-nil). Network failures and 5xx responses surface as
// UNAVAILABLE so callers know a retry is reasonable.
func doJSON(client httpDoer, req *http.Request, service string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return model.NewUnavailableError(fmt.Sprintf("%s service unreachable: %v", service, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return model.NewUnavailableError(fmt.Sprintf("%s service read: %v", service, err))
	}

	switch {
	case resp.StatusCode >= 500:
		return model.NewUnavailableError(fmt.Sprintf("%s service returned status %d", service, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return model.NewNotFoundError(fmt.Sprintf("%s: %s", service, string(body)))
	case resp.StatusCode >= 400:
		return model.NewBadRequestError(fmt.Sprintf("%s service returned status %d: %s", service, resp.StatusCode, string(body)))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", service, err)
	}
	return nil
}
