// Package linkmeta looks up preview metadata (title, description, image, site
// name) for article links attached to ideas.
package linkmeta

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrUnsupportedURL = errors.New("unsupported url")
	ErrBrowserMissing = errors.New("no chromium binary available")
	ErrCircuitOpen    = errors.New("link preview circuit open")
)

const defaultUserAgent = "ideabot-linkpreview/1.0 (+https://slack.com)"

type Metadata struct {
	Title       string
	Description string
	Image       string
	SiteName    string
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Metadata, error)
}

// Disabled never fetches anything. Ideas still get the raw URL as their image.
type Disabled struct{}

func (Disabled) Fetch(context.Context, string) (Metadata, error) {
	return Metadata{}, nil
}

func parseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrUnsupportedURL)
	}
	return u, nil
}

// fromTags maps collected meta tags to Metadata. Open Graph wins over Twitter
// cards, which win over plain HTML tags.
func fromTags(base *url.URL, tags map[string]string, title string) Metadata {
	meta := Metadata{
		Title:       first(tags["og:title"], tags["twitter:title"], title),
		Description: first(tags["og:description"], tags["twitter:description"], tags["description"]),
		Image:       first(tags["og:image"], tags["og:image:url"], tags["og:image:secure_url"], tags["twitter:image"], tags["twitter:image:src"]),
		SiteName:    first(tags["og:site_name"], tags["application-name"]),
	}
	if meta.Image != "" && base != nil {
		if ref, err := url.Parse(meta.Image); err == nil {
			meta.Image = base.ResolveReference(ref).String()
		}
	}
	return meta
}

func first(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
