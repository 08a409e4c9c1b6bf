package linkmeta

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxDocumentBytes = 1 << 20

// HTMLFetcher downloads the page and reads its meta tags. Links that point at
// an image directly produce that image and nothing else.
type HTMLFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTMLFetcher(client *http.Client) *HTMLFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTMLFetcher{client: client, userAgent: defaultUserAgent}
}

func (f *HTMLFetcher) Fetch(ctx context.Context, rawURL string) (Metadata, error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return Metadata{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,image/*;q=0.8,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("fetch %s: %w", target.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Metadata{}, fmt.Errorf("fetch %s: status %d", target.Host, resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "image/") {
		return Metadata{Image: rawURL}, nil
	}

	tags, title, err := scanHead(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return Metadata{}, fmt.Errorf("parse %s: %w", target.Host, err)
	}
	return fromTags(resp.Request.URL, tags, title), nil
}

// scanHead collects meta tags keyed by lowercased property or name, keeping
// the first value seen, plus the document title.
func scanHead(r io.Reader) (map[string]string, string, error) {
	tags := map[string]string{}
	var title string
	inTitle := false

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return tags, title, nil
			}
			return nil, "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Meta:
				collectMeta(tok, tags)
			case atom.Title:
				inTitle = title == ""
			case atom.Body:
				return tags, title, nil
			}
		case html.TextToken:
			if inTitle {
				title = strings.TrimSpace(string(z.Text()))
				inTitle = false
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Title:
				inTitle = false
			case atom.Head:
				return tags, title, nil
			}
		}
	}
}

func collectMeta(tok html.Token, tags map[string]string) {
	var key, content string
	for _, attr := range tok.Attr {
		switch strings.ToLower(attr.Key) {
		case "property", "name":
			if key == "" {
				key = strings.ToLower(strings.TrimSpace(attr.Val))
			}
		case "content":
			content = attr.Val
		}
	}
	if key == "" || content == "" {
		return
	}
	if _, seen := tags[key]; !seen {
		tags[key] = content
	}
}
