// Package dhis2 talks to the DHIS2 web API: filtered code lookups,
// entity creation and update, bulk imports, and the system id generator.
// It also owns the code transform and the process-wide identifier
// registry that joins Meerkat's natural keys to DHIS2's generated ids.
package dhis2

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/meerkat/consul/internal/platform/transport"
)

type Client struct {
	http    *transport.Client
	base    string
	headers map[string]string
	log     zerolog.Logger
}

// NewClient builds a client for the API rooted at baseURL+apiResource
// (e.g. "http://dhis2-web:8080" + "/api/29"), authenticating with basic
// credentials as DHIS2 expects.
func NewClient(baseURL, apiResource, username, password string, http *transport.Client, log zerolog.Logger) *Client {
	base := strings.TrimRight(baseURL, "/") + "/" + strings.Trim(apiResource, "/")
	creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return &Client{
		http: http,
		base: base,
		headers: map[string]string{
			"Authorization": "Basic " + creds,
		},
		log: log,
	}
}

// FindByCode lists every entity of the resource whose code equals code,
// walking the pager envelope.
func (c *Client) FindByCode(ctx context.Context, resource, code string) ([]Entity, error) {
	var out []Entity
	page := 1
	for {
		u := fmt.Sprintf("%s/%s.json?filter=code:eq:%s&fields=id,code,name&page=%d",
			c.base, resource, url.QueryEscape(code), page)
		resp, err := c.http.Get(ctx, u, c.headers)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, fmt.Errorf("list %s by code %q: status %d", resource, code, resp.StatusCode)
		}

		var envelope map[string]json.RawMessage
		if err := resp.Decode(&envelope); err != nil {
			return nil, fmt.Errorf("list %s: %w", resource, err)
		}

		if raw, ok := envelope[resource]; ok {
			var batch []Entity
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, fmt.Errorf("decode %s entities: %w", resource, err)
			}
			out = append(out, batch...)
		}

		var pager Pager
		if raw, ok := envelope["pager"]; ok {
			if err := json.Unmarshal(raw, &pager); err != nil {
				return nil, fmt.Errorf("decode %s pager: %w", resource, err)
			}
		}
		if pager.PageCount <= page {
			return out, nil
		}
		page++
	}
}

// Create POSTs a new entity. Non-2xx responses come back as errors with
// the status embedded; the transport has already logged the body.
func (c *Client) Create(ctx context.Context, resource string, payload interface{}) error {
	resp, err := c.http.PostJSON(ctx, c.base+"/"+resource, payload, c.headers)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("create %s: status %d", resource, resp.StatusCode)
	}
	return nil
}

// Update PUTs an entity by identifier.
func (c *Client) Update(ctx context.Context, resource, id string, payload interface{}) error {
	resp, err := c.http.PutJSON(ctx, c.base+"/"+resource+"/"+id, payload, c.headers)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("update %s/%s: status %d", resource, id, resp.StatusCode)
	}
	return nil
}

// Delete removes an entity by identifier.
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	resp, err := c.http.Delete(ctx, c.base+"/"+resource+"/"+id, c.headers)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("delete %s/%s: status %d", resource, id, resp.StatusCode)
	}
	return nil
}

// OrganisationUnitRefs fetches the organisation units currently attached
// to an entity. Used to honor the union-only assignment policy.
func (c *Client) OrganisationUnitRefs(ctx context.Context, resource, id string) ([]Ref, error) {
	u := fmt.Sprintf("%s/%s/%s.json?fields=organisationUnits", c.base, resource, id)
	resp, err := c.http.Get(ctx, u, c.headers)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch %s/%s organisation units: status %d", resource, id, resp.StatusCode)
	}
	var body struct {
		OrganisationUnits []Ref `json:"organisationUnits"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	return body.OrganisationUnits, nil
}

// SystemIDs asks the DHIS2 id generator for n fresh identifiers.
func (c *Client) SystemIDs(ctx context.Context, n int) ([]string, error) {
	u := fmt.Sprintf("%s/system/id.json?limit=%d", c.base, n)
	resp, err := c.http.Get(ctx, u, c.headers)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch system ids: status %d", resp.StatusCode)
	}
	var body struct {
		Codes []string `json:"codes"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	return body.Codes, nil
}
