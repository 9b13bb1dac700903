// Package linkverify checks that an agent controls an external social
// account by fetching a public post and looking for a link marker in its
// visible text.
package linkverify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// DefaultPrefix precedes the handle in the marker a post must contain.
const DefaultPrefix = "NEBULON-LINK-"

// maxBody caps how much of a post is read.
const maxBody = 2 << 20

var (
	ErrUnsupportedPlatform = errors.New("linkverify: unsupported platform")
	ErrInvalidURL          = errors.New("linkverify: post url must be http(s) on an allowed host")
	ErrPostUnavailable     = errors.New("linkverify: could not access the post")
	ErrPatternNotFound     = errors.New("linkverify: verification pattern not found")
	ErrAccountMismatch     = errors.New("linkverify: post does not belong to the external account")
)

// Config configures a Verifier.
type Config struct {
	// Platforms maps each accepted platform to the hosts its posts may be
	// served from. A platform with no hosts rejects every post.
	Platforms map[string][]string
	Timeout   time.Duration
	Prefix    string
}

// Verifier fetches posts and checks them for the link marker.
type Verifier struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

// New returns a Verifier. A nil client uses a client with cfg.Timeout.
func New(cfg Config, client *http.Client, log *zap.Logger) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	v := &Verifier{cfg: cfg, log: log}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	// Copy so redirects are checked without mutating the caller's client.
	c := *client
	c.CheckRedirect = v.checkRedirect
	v.client = &c
	return v
}

// checkRedirect keeps redirects on the hosts of the platform being verified.
func (v *Verifier) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return errors.New("too many redirects")
	}
	hosts, _ := req.Context().Value(platformKey{}).([]string)
	if !allowedURL(req.URL, hosts) {
		return ErrInvalidURL
	}
	return nil
}

type platformKey struct{}

func allowedURL(u *url.URL, hosts []string) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && hostAllowed(u.Hostname(), hosts)
}

// Marker returns the text a post must contain to link handle.
func (v *Verifier) Marker(handle string) string {
	return v.cfg.Prefix + handle
}

// Verify fetches postURL and checks that its text contains the marker for
// handle and that the post belongs to externalHandle: the account name must
// appear in the post's URL path or in its text.
func (v *Verifier) Verify(ctx context.Context, platform, handle, externalHandle, postURL string) error {
	hosts, ok := v.cfg.Platforms[platform]
	if !ok {
		return ErrUnsupportedPlatform
	}
	u, err := url.Parse(postURL)
	if err != nil || !allowedURL(u, hosts) {
		return ErrInvalidURL
	}
	account := normalizeAccount(externalHandle)
	if account == "" {
		return ErrAccountMismatch
	}

	ctx = context.WithValue(ctx, platformKey{}, hosts)
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := v.client.Do(req)
	if errors.Is(err, ErrInvalidURL) {
		return ErrInvalidURL
	}
	if err != nil {
		v.log.Debug("fetch post failed", zap.String("url", postURL), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPostUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrPostUnavailable, resp.StatusCode)
	}

	text, err := pageText(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPostUnavailable, err)
	}
	if !strings.Contains(text, v.Marker(handle)) {
		return ErrPatternNotFound
	}
	final := resp.Request.URL
	if !strings.Contains(strings.ToLower(final.Path), account) && !strings.Contains(strings.ToLower(text), account) {
		return ErrAccountMismatch
	}
	v.log.Info("link verified", zap.String("platform", platform), zap.String("handle", handle))
	return nil
}

// normalizeAccount lowercases an external handle and drops a leading @.
func normalizeAccount(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

func hostAllowed(host string, allowed []string) bool {
	if host == "" {
		return false
	}
	host = strings.ToLower(host)
	for _, a := range allowed {
		a = strings.ToLower(a)
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// pageText parses r as HTML and returns its visible text.
func pageText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var sb strings.Builder
	extractText(doc, &sb, 0)
	return sb.String(), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 100 {
		return
	}
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}
}
