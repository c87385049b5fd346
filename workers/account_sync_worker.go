// workers/account_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"game-economy/models"
	"game-economy/services"
	"game-economy/utils"

	"github.com/rs/zerolog"
)

// RemoteAccount is one entry of the profile service's account feed.
type RemoteAccount struct {
	WalletAddress   string    `json:"wallet_address"`
	ReferrerAddress *string   `json:"referrer_address,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AccountChangesResponse is the top-level body of the feed.
type AccountChangesResponse struct {
	Accounts []RemoteAccount `json:"accounts"`
}

// AccountSyncWorker polls the profile service for account facts (status,
// referrer, creation time) and applies them to the account directory.
type AccountSyncWorker struct {
	accounts     *services.AccountDirectory
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
	since        time.Time
	log          zerolog.Logger
}

func NewAccountSyncWorker(accounts *services.AccountDirectory, baseURL, endpointPath, serviceToken string, interval time.Duration) *AccountSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &AccountSyncWorker{
		accounts:     accounts,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.NewHTTPClient(30 * time.Second),
		log:          utils.Component("account_sync"),
	}
}

func (w *AccountSyncWorker) Start(ctx context.Context) {
	w.log.Info().Str("url", w.baseURL).Msg("starting account sync worker")
	go w.run(ctx)
}

func (w *AccountSyncWorker) run(ctx context.Context) {
	if err := w.SyncOnce(ctx); err != nil {
		w.log.Warn().Err(err).Msg("initial account sync failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("account sync batch failed")
			}
		case <-ctx.Done():
			w.log.Info().Msg("account sync worker stopped")
			return
		}
	}
}

// SyncOnce fetches the accounts changed since the cursor and applies them.
// Malformed entries are skipped for good. Any other failure holds the cursor
// just before the oldest failed entry so the next poll fetches it again.
func (w *AccountSyncWorker) SyncOnce(ctx context.Context) error {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid sync service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", w.since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sync service returned %d: %s", resp.StatusCode, string(body))
	}

	var changes AccountChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return fmt.Errorf("failed to decode sync service response: %w", err)
	}
	if len(changes.Accounts) == 0 {
		return nil
	}

	var applied, skipped, failed int
	newest := w.since
	var oldestFailed time.Time
	for _, ra := range changes.Accounts {
		fact := services.AccountFact{
			WalletAddress: ra.WalletAddress,
			Status:        models.AccountStatus(ra.Status),
			CreatedAt:     ra.CreatedAt,
		}
		if ra.ReferrerAddress != nil {
			fact.ReferrerAddress = *ra.ReferrerAddress
		}
		if err := w.accounts.ApplyFact(ctx, fact); err != nil {
			if errors.Is(err, services.ValidationError) {
				skipped++
				w.log.Warn().Err(err).Str("account", ra.WalletAddress).Msg("skipping malformed account")
				if ra.UpdatedAt.After(newest) {
					newest = ra.UpdatedAt
				}
				continue
			}
			failed++
			w.log.Warn().Err(err).Str("account", ra.WalletAddress).Msg("failed to apply account")
			if oldestFailed.IsZero() || ra.UpdatedAt.Before(oldestFailed) {
				oldestFailed = ra.UpdatedAt
			}
			continue
		}
		applied++
		if ra.UpdatedAt.After(newest) {
			newest = ra.UpdatedAt
		}
	}

	cursor := newest
	if failed > 0 {
		// since is sent with second precision
		held := oldestFailed.Truncate(time.Second).Add(-time.Second)
		if held.Before(cursor) {
			cursor = held
		}
		if cursor.Before(w.since) {
			cursor = w.since
		}
	}
	w.since = cursor

	w.log.Info().Int("received", len(changes.Accounts)).Int("applied", applied).Int("skipped", skipped).Int("failed", failed).
		Time("cursor", w.since).Msg("account sync batch done")
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed to apply, cursor held at %s", failed, len(changes.Accounts), w.since.Format(time.RFC3339))
	}
	return nil
}
