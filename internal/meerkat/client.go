package meerkat

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/meerkat/consul/internal/platform/auth"
	"github.com/meerkat/consul/internal/platform/transport"
)

type Client struct {
	http *transport.Client
	base string
	auth auth.HeaderProvider
	log  zerolog.Logger
}

func NewClient(baseURL string, headers auth.HeaderProvider, http *transport.Client, log zerolog.Logger) *Client {
	return &Client{
		http: http,
		base: strings.TrimRight(baseURL, "/"),
		auth: headers,
		log:  log,
	}
}

// LocationTree fetches the country-rooted location hierarchy.
func (c *Client) LocationTree(ctx context.Context) (*TreeNode, error) {
	var root TreeNode
	if err := c.getJSON(ctx, "/locationtree", &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// Location fetches the detail record for one catalogue location.
func (c *Client) Location(ctx context.Context, id int) (*Location, error) {
	var loc Location
	if err := c.getJSON(ctx, "/location/"+strconv.Itoa(id), &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// Locations fetches the full catalogue keyed by location id.
func (c *Client) Locations(ctx context.Context) (map[string]Location, error) {
	out := make(map[string]Location)
	if err := c.getJSON(ctx, "/locations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportForms fetches every form schema, keyed by form name with fields
// in declaration order.
func (c *Client) ExportForms(ctx context.Context) (map[string][]Field, error) {
	out := make(map[string][]Field)
	if err := c.getJSON(ctx, "/export/forms", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	headers, err := c.auth.AuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("meerkat auth: %w", err)
	}
	resp, err := c.http.Get(ctx, c.base+path, headers)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("meerkat GET %s: status %d", path, resp.StatusCode)
	}
	if err := resp.Decode(v); err != nil {
		return fmt.Errorf("meerkat GET %s: %w", path, err)
	}
	return nil
}
