package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/clipzy/clipzy-server/internal/util"
)

// Link is a share link. The key travels in the URL fragment and never
// reaches the server.
type Link struct {
	Base string
	ID   string
	Key  string
}

func (l Link) String() string {
	return strings.TrimSuffix(l.Base, "/") + "/#" + l.ID + "!" + l.Key
}

// RawURL is the server-side decrypt endpoint for clients that cannot decrypt
// on their own. Unlike String it exposes the key to the server.
func (l Link) RawURL() string {
	return strings.TrimSuffix(l.Base, "/") + "/api/raw/" + url.PathEscape(l.ID) + "?key=" + url.QueryEscape(l.Key)
}

// ParseLink splits a share link of the form {base}/#{id}!{key}.
func ParseLink(s string) (Link, error) {
	base, fragment, ok := strings.Cut(s, "#")
	if !ok {
		return Link{}, fmt.Errorf("link has no fragment")
	}
	id, key, ok := strings.Cut(fragment, "!")
	if !ok || id == "" || key == "" {
		return Link{}, fmt.Errorf("link fragment must be id!key")
	}
	if !util.IsValidPasteID(id) {
		return Link{}, fmt.Errorf("link has a malformed id")
	}
	return Link{Base: strings.TrimSuffix(base, "/"), ID: id, Key: key}, nil
}

// Share encrypts text under a fresh key, uploads it and returns the link.
func (c *Client) Share(ctx context.Context, text string, ttl time.Duration) (Link, error) {
	key, err := util.GenerateKey()
	if err != nil {
		return Link{}, err
	}
	sealed, err := util.Seal(key, text)
	if err != nil {
		return Link{}, err
	}
	id, err := c.Store(ctx, sealed, ttl)
	if err != nil {
		return Link{}, err
	}
	return Link{Base: c.baseURL, ID: id, Key: key}, nil
}

// Fetch downloads and decrypts the paste a link points at.
func (c *Client) Fetch(ctx context.Context, link Link) (string, error) {
	stored, err := c.Get(ctx, link.ID)
	if err != nil {
		return "", err
	}
	plaintext, err := util.Open(link.Key, stored)
	if err != nil {
		return "", fmt.Errorf("decrypt paste: %w", err)
	}
	return plaintext, nil
}
