// Package xkcd fetches comics from the xkcd JSON API.
package xkcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://xkcd.com"
	userAgent      = "inkframe/1.0"

	// randomRetries bounds how many picks Random burns on comics that
	// turn out to be missing (the API 404s number 404, among others) or
	// have no image.
	randomRetries = 4

	maxMetaBytes  = 1 << 20
	maxImageBytes = 20 << 20
)

// ErrNotFound is returned for comic numbers the API has no entry for.
var ErrNotFound = errors.New("comic not found")

// Comic is the subset of the API metadata the frame uses.
type Comic struct {
	Num       int    `json:"num"`
	Title     string `json:"title"`
	SafeTitle string `json:"safe_title"`
	Img       string `json:"img"`
	Alt       string `json:"alt"`
}

// Client talks to the xkcd API.
type Client struct {
	// BaseURL can be pointed at a test server.
	BaseURL    string
	HTTPClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a client against the public API.
func NewClient(logger *zap.Logger) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Latest fetches the newest comic's metadata.
func (c *Client) Latest(ctx context.Context) (*Comic, error) {
	return c.fetchComic(ctx, c.BaseURL+"/info.0.json")
}

// Get fetches one comic's metadata by number.
func (c *Client) Get(ctx context.Context, num int) (*Comic, error) {
	return c.fetchComic(ctx, fmt.Sprintf("%s/%d/info.0.json", c.BaseURL, num))
}

// Image downloads the comic's image bytes.
func (c *Client) Image(ctx context.Context, comic *Comic) ([]byte, error) {
	if comic.Img == "" {
		return nil, fmt.Errorf("comic %d has no image URL", comic.Num)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, comic.Img, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download comic image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comic image returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read comic image: %w", err)
	}
	return data, nil
}

// Random picks a uniformly random comic and downloads its image. Picks that
// land on a missing comic or one without an image are retried with a fresh
// number.
func (c *Client) Random(ctx context.Context) (*Comic, []byte, error) {
	latest, err := c.Latest(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch latest comic: %w", err)
	}
	if latest.Num < 1 {
		return nil, nil, fmt.Errorf("latest comic has invalid number %d", latest.Num)
	}

	for attempt := 0; attempt < randomRetries; attempt++ {
		num := 1 + rand.Intn(latest.Num)
		comic, err := c.Get(ctx, num)
		if errors.Is(err, ErrNotFound) {
			c.logger.Debug("picked a missing comic, retrying", zap.Int("num", num))
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if comic.Img == "" {
			c.logger.Debug("picked a comic without an image, retrying", zap.Int("num", num))
			continue
		}

		data, err := c.Image(ctx, comic)
		if err != nil {
			return nil, nil, err
		}
		c.logger.Info("fetched xkcd comic",
			zap.Int("num", comic.Num),
			zap.String("title", comic.SafeTitle),
			zap.Int("bytes", len(data)))
		return comic, data, nil
	}
	return nil, nil, fmt.Errorf("no fetchable comic in %d picks", randomRetries)
}

func (c *Client) fetchComic(ctx context.Context, url string) (*Comic, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", url, resp.StatusCode)
	}

	var comic Comic
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetaBytes)).Decode(&comic); err != nil {
		return nil, fmt.Errorf("failed to decode comic metadata: %w", err)
	}
	return &comic, nil
}
