package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const DefaultEndpoint = "https://planetarycomputer.microsoft.com/api/stac/v1"

var ErrNoItems = errors.New("no items found")

type SearchRequest struct {
	Collections []string `json:"collections,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// Client queries a STAC API.
type Client struct {
	endpoint string
	client   *http.Client
	signer   Signer
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithSigner signs every item returned by the client.
func WithSigner(signer Signer) Option {
	return func(c *Client) {
		c.signer = signer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(endpoint string, options ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   http.DefaultClient,
		logger:   slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Search requests the first page of items that match the search.
func (c *Client) Search(ctx context.Context, search *SearchRequest) (*ItemCollection, error) {
	body, err := json.Marshal(search)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search: %w", err)
	}

	url := c.endpoint + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json")

	c.logger.Debug("searching catalog", slog.String("url", url), slog.String("query", string(body)))
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response from %s: %d %s", url, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	raw := &struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
		Links    []*Link           `json:"links"`
	}{}
	if err := json.Unmarshal(data, raw); err != nil {
		return nil, fmt.Errorf("failed to parse response from %s: %w", url, err)
	}

	collection := &ItemCollection{
		Type:     raw.Type,
		Features: make([]*Item, len(raw.Features)),
		Links:    raw.Links,
	}
	for i, feature := range raw.Features {
		item, err := decodeItem(feature)
		if err != nil {
			return nil, fmt.Errorf("item %d from %s: %w", i, url, err)
		}
		if c.signer != nil {
			if err := c.signer.Sign(ctx, item); err != nil {
				return nil, fmt.Errorf("failed to sign item %s: %w", item.Id, err)
			}
		}
		collection.Features[i] = item
	}
	return collection, nil
}

// Latest returns the first item listed for a collection.  An empty collection
// is an error.
func (c *Client) Latest(ctx context.Context, collection string) (*Item, error) {
	results, err := c.Search(ctx, &SearchRequest{Collections: []string{collection}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(results.Features) == 0 {
		return nil, fmt.Errorf("%w in collection %q", ErrNoItems, collection)
	}
	item := results.Features[0]
	c.logger.Info("found catalog item", slog.String("collection", collection), slog.String("item", item.Id))
	return item, nil
}
