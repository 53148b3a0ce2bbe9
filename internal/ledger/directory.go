package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/registerlabs/ledgerflow/model"
)

// HTTPParticipantDirectory is a ParticipantDirectory over the directory
// service's REST surface.
type HTTPParticipantDirectory struct {
	baseURL string
	client  httpDoer
}

// NewHTTPParticipantDirectory creates a directory client for the given base URL.
func NewHTTPParticipantDirectory(baseURL string, timeout time.Duration) *HTTPParticipantDirectory {
	return &HTTPParticipantDirectory{baseURL: baseURL, client: newHTTPClient(timeout)}
}

// GetByUserAndOrg implements ParticipantDirectory. A missing profile yields
// (nil, nil) rather than an error; the orchestrator decides what that means.
func (c *HTTPParticipantDirectory) GetByUserAndOrg(ctx context.Context, userID, orgID string) (*ParticipantInfo, error) {
	u := fmt.Sprintf("%s/participants?userId=%s&orgId=%s",
		c.baseURL, url.QueryEscape(userID), url.QueryEscape(orgID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: build request: %w", err)
	}
	var info ParticipantInfo
	if err := doJSON(c.client, req, "directory", &info); err != nil {
		var env *model.ErrorEnvelope
		if errors.As(err, &env) && env.Code == model.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &info, nil
}

// GetLinkedWallets implements ParticipantDirectory.
func (c *HTTPParticipantDirectory) GetLinkedWallets(ctx context.Context, participantID string, activeOnly bool) ([]LinkedWalletInfo, error) {
	u := fmt.Sprintf("%s/participants/%s/wallets?activeOnly=%t",
		c.baseURL, url.PathEscape(participantID), activeOnly)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: build request: %w", err)
	}
	var wallets []LinkedWalletInfo
	if err := doJSON(c.client, req, "directory", &wallets); err != nil {
		return nil, err
	}
	return wallets, nil
}

// HTTPNotifier posts action notifications to the notification service.
type HTTPNotifier struct {
	baseURL string
	client  httpDoer
}

// NewHTTPNotifier creates a notifier for the given base URL.
func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{baseURL: baseURL, client: newHTTPClient(timeout)}
}

// NotifyActionReady implements Notifier.
func (c *HTTPNotifier) NotifyActionReady(ctx context.Context, n ActionNotification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notifier: marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notifications/actions", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("notifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(c.client, req, "notifier", nil)
}
