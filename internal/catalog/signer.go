package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/planetlabs/gbifprep/internal/storage"
)

const (
	DefaultSASEndpoint = "https://planetarycomputer.microsoft.com/api/sas/v1"

	// tokens this close to expiry are refreshed
	tokenExpiryMargin = 5 * time.Minute
)

// Signer adds access credentials to the assets of an item.
type Signer interface {
	Sign(ctx context.Context, item *Item) error
}

type Token struct {
	Expiry time.Time `json:"msft:expiry"`
	Token  string    `json:"token"`
}

// PlanetaryComputerSigner signs Azure Blob Storage assets with short lived
// SAS tokens.  Tokens are cached per account and container.
type PlanetaryComputerSigner struct {
	endpoint string
	client   *http.Client
	now      func() time.Time

	mutex  sync.Mutex
	tokens map[string]*Token
}

type SignerOption func(*PlanetaryComputerSigner)

func WithSignerHTTPClient(client *http.Client) SignerOption {
	return func(s *PlanetaryComputerSigner) {
		s.client = client
	}
}

// WithClock replaces the time source used to check token expiry.
func WithClock(now func() time.Time) SignerOption {
	return func(s *PlanetaryComputerSigner) {
		s.now = now
	}
}

func NewPlanetaryComputerSigner(endpoint string, options ...SignerOption) *PlanetaryComputerSigner {
	s := &PlanetaryComputerSigner{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   http.DefaultClient,
		now:      time.Now,
		tokens:   map[string]*Token{},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *PlanetaryComputerSigner) Sign(ctx context.Context, item *Item) error {
	for key, asset := range item.Assets {
		if asset == nil {
			continue
		}
		if err := s.SignAsset(ctx, asset); err != nil {
			return fmt.Errorf("asset %q: %w", key, err)
		}
	}
	return nil
}

// SignAsset adds a credential to the storage options of abfs:// and az://
// assets and appends a token to blob storage https hrefs.  Other assets and
// assets that are already signed are left alone.
func (s *PlanetaryComputerSigner) SignAsset(ctx context.Context, asset *Asset) error {
	href := asset.Href
	switch {
	case strings.HasPrefix(href, "abfs://"), strings.HasPrefix(href, "abfss://"), strings.HasPrefix(href, "az://"):
		if _, ok := asset.StorageOptions[storage.OptionCredential]; ok {
			return nil
		}
		loc, err := storage.ParseAzureHref(href, asset.StorageOptions)
		if err != nil {
			return err
		}
		token, err := s.Token(ctx, loc.Account, loc.Container)
		if err != nil {
			return err
		}
		if asset.StorageOptions == nil {
			asset.StorageOptions = map[string]any{}
		}
		asset.StorageOptions[storage.OptionCredential] = token.Token
		return nil

	case strings.HasPrefix(href, "https://") && strings.Contains(href, ".blob.core.windows.net/"):
		loc, err := storage.ParseAzureHref(href, nil)
		if err != nil {
			return err
		}
		if strings.Contains(loc.SAS, "sig=") {
			return nil
		}
		token, err := s.Token(ctx, loc.Account, loc.Container)
		if err != nil {
			return err
		}
		separator := "?"
		if strings.Contains(href, "?") {
			separator = "&"
		}
		asset.Href = href + separator + token.Token
		return nil
	}
	return nil
}

// Token returns a cached token for the container or requests a new one.
func (s *PlanetaryComputerSigner) Token(ctx context.Context, account string, container string) (*Token, error) {
	key := account + "/" + container

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if token, ok := s.tokens[key]; ok && s.now().Add(tokenExpiryMargin).Before(token.Expiry) {
		return token, nil
	}

	url := fmt.Sprintf("%s/token/%s/%s", s.endpoint, account, container)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response from %s: %d %s", url, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	token := &Token{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, fmt.Errorf("failed to parse token from %s: %w", url, err)
	}
	if token.Token == "" {
		return nil, fmt.Errorf("empty token from %s", url)
	}

	s.tokens[key] = token
	return token, nil
}
