// Package client fetches the remote purgatory list: a published JSON
// document naming DIDs that have been flagged for removal.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	defaultTimeout = 10 * time.Second
	cacheKey       = "purgatory:list"
	maxFailCount   = 5
)

// Entry is one purgatory listing.
type Entry struct {
	DID    string `json:"did"`
	Reason string `json:"reason"`
}

type Client struct {
	client    *http.Client
	cache     *cache.Cache
	listURL   string
	lastGood  map[string]string
	failCount int
}

func New(listURL string, ttl time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: defaultTimeout},
		cache:   cache.New(ttl, 2*ttl),
		listURL: listURL,
	}
}

// Fetch returns the current purgatory list keyed by DID. Responses are
// cached; repeated upstream failures fall back to the last good copy
// until the fail budget is exhausted.
func (c *Client) Fetch(ctx context.Context) (map[string]string, error) {
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.(map[string]string), nil
	}

	list, err := c.fetch(ctx)
	if err != nil {
		c.failCount++
		if c.lastGood != nil && c.failCount <= maxFailCount {
			return c.lastGood, nil
		}
		return nil, err
	}
	c.failCount = 0
	c.lastGood = list

	c.cache.SetDefault(cacheKey, list)
	return list, nil
}

func (c *Client) fetch(ctx context.Context) (map[string]string, error) {
	if c.listURL == "" {
		return map[string]string{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.listURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch purgatory list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("purgatory list returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("invalid purgatory list: %w", err)
	}

	list := make(map[string]string, len(entries))
	for _, e := range entries {
		list[e.DID] = e.Reason
	}
	return list, nil
}
