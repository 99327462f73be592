// Package registry looks up npm packages on jsDelivr and builds the CDN URLs
// cells import them from.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/nodebook/internal/notebook"
)

// Defaults for the public jsDelivr endpoints.
const (
	DefaultAPIURL = "https://data.jsdelivr.com/v1/packages/npm"
	DefaultCDNURL = "https://cdn.jsdelivr.net/npm"
)

// MaxVersions caps the versions returned by Lookup.
const MaxVersions = 10

// Errors returned by Lookup.
var (
	ErrNotNPM          = errors.New("not an npm package")
	ErrPackageNotFound = errors.New("package not found")
)

// Info describes a package as reported by the registry.
type Info struct {
	Name     string            `json:"name"`
	Tags     map[string]string `json:"tags"`
	Versions []string          `json:"versions"`
}

// Latest returns the version tagged latest, or the newest listed version.
func (i *Info) Latest() string {
	if v := i.Tags["latest"]; v != "" {
		return v
	}
	if len(i.Versions) > 0 {
		return i.Versions[0]
	}
	return ""
}

type apiResponse struct {
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Tags     map[string]string `json:"tags"`
	Versions []struct {
		Version string `json:"version"`
	} `json:"versions"`
}

// Config configures a Client.
type Config struct {
	APIURL     string
	CDNURL     string
	HTTPClient *http.Client
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Client queries the package registry. Lookups are cached for the life of
// the client.
type Client struct {
	apiURL string
	cdnURL string
	http   *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Info
}

// NewClient creates a Client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	c := &Client{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		cdnURL: strings.TrimRight(cfg.CDNURL, "/"),
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
		cache:  make(map[string]*Info),
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.cdnURL == "" {
		c.cdnURL = DefaultCDNURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Lookup fetches package metadata. Versions are newest first and capped at
// MaxVersions.
func (c *Client) Lookup(ctx context.Context, name string) (*Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrPackageNotFound)
	}

	c.mu.RLock()
	info, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	endpoint := c.apiURL + "/" + escapeName(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("looking up package", "name", name, "url", endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("registry returned %s for %s", resp.Status, name)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode registry response: %w", err)
	}
	if body.Type != "npm" {
		return nil, fmt.Errorf("%w: %s", ErrNotNPM, name)
	}

	info = &Info{Name: body.Name, Tags: body.Tags}
	if info.Name == "" {
		info.Name = name
	}
	for _, v := range body.Versions {
		if len(info.Versions) == MaxVersions {
			break
		}
		info.Versions = append(info.Versions, v.Version)
	}

	c.mu.Lock()
	c.cache[name] = info
	c.mu.Unlock()
	return info, nil
}

// ModuleURL returns the ES module URL for a package version.
func (c *Client) ModuleURL(name, version string) string {
	return fmt.Sprintf("%s/%s@%s/+esm", c.cdnURL, name, version)
}

// Package resolves name at version, or at its latest version when version
// is empty, into a project package.
func (c *Client) Package(ctx context.Context, name, version string) (notebook.Package, error) {
	if version == "" {
		info, err := c.Lookup(ctx, name)
		if err != nil {
			return notebook.Package{}, err
		}
		version = info.Latest()
		if version == "" {
			return notebook.Package{}, fmt.Errorf("%w: %s has no versions", ErrPackageNotFound, name)
		}
	}
	u := c.ModuleURL(name, version)
	return notebook.Package{
		Name:        name,
		Version:     version,
		URL:         u,
		Entrypoints: []notebook.Entrypoint{{Name: name, Value: u}},
	}, nil
}

// escapeName escapes a package name for use in a path, keeping the scope
// separator of scoped packages.
func escapeName(name string) string {
	if scope, rest, ok := strings.Cut(name, "/"); ok && strings.HasPrefix(scope, "@") {
		return url.PathEscape(scope) + "/" + url.PathEscape(rest)
	}
	return url.PathEscape(name)
}
