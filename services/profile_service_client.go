package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ProfileServiceClient fetches the rating/subscription snapshot from the
// profile service. Matchmaking calls it once per enqueue.
type ProfileServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewProfileServiceClient(baseURL, token string) *ProfileServiceClient {
	return &ProfileServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *ProfileServiceClient) GetProfile(ctx context.Context, userID string) (PlayerProfile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/public/profiles/%s", c.BaseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return PlayerProfile{}, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return PlayerProfile{}, fmt.Errorf("failed to call profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return PlayerProfile{}, fmt.Errorf("profile service returned status %d: %s", resp.StatusCode, string(body))
	}

	var profile PlayerProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return PlayerProfile{}, fmt.Errorf("failed to decode profile response: %w", err)
	}
	return profile, nil
}
