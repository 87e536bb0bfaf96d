package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/management"
)

var ErrUnauthorized = errors.New("connector: credentials rejected")

var reasonErrors = map[string]error{
	reasonNotRegistered:     management.ErrNotRegistered,
	reasonAttributeNotFound: management.ErrAttributeNotFound,
	reasonNotLocal:          management.ErrNotLocal,
	reasonUnknownOperation:  management.ErrUnknownOperation,
}

// Client is a remote management client, used by the command line tools.
type Client struct {
	endpoint string
	username string
	password string
	http     *http.Client
}

// Dial resolves serviceURL through its registry and returns a client for
// the connector bound there.
func Dial(ctx context.Context, serviceURL, username, password string) (*Client, error) {
	port, err := LocalHostPort(serviceURL)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		return nil, fmt.Errorf("%w: %q names no local registry", ErrMalformedURL, serviceURL)
	}
	reg, err := GetRegistry(ctx, port)
	if err != nil {
		return nil, err
	}
	endpoint, err := reg.Lookup(ctx, BindingName(serviceURL))
	if err != nil {
		return nil, err
	}
	return NewClient(endpoint, username, password), nil
}

// NewClient talks to a connector at a known HTTP endpoint.
func NewClient(endpoint, username, password string) *Client {
	return &Client{
		endpoint: endpoint,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Endpoint is the connector base URL.
func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) Records(ctx context.Context) ([]management.Record, error) {
	var recs []management.Record
	if err := c.do(ctx, http.MethodGet, "/mbeans", &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Client) Record(ctx context.Context, name management.ObjectName) (*management.Record, error) {
	var rec management.Record
	if err := c.do(ctx, http.MethodGet, "/mbeans/"+url.PathEscape(name.String()), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) GetAttribute(ctx context.Context, name management.ObjectName, attr string) (string, error) {
	var body attributeBody
	path := "/mbeans/" + url.PathEscape(name.String()) + "/attributes/" + url.PathEscape(attr)
	if err := c.do(ctx, http.MethodGet, path, &body); err != nil {
		return "", err
	}
	return body.Value, nil
}

// Invoke runs op on name in the remote process.
func (c *Client) Invoke(ctx context.Context, name management.ObjectName, op string) (interface{}, error) {
	var body invokeBody
	path := "/mbeans/" + url.PathEscape(name.String()) + "/operations/" + url.PathEscape(op)
	if err := c.do(ctx, http.MethodPost, path, &body); err != nil {
		return nil, err
	}
	return body.Result, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	err := doJSON(ctx, c.http, method, c.endpoint+path, func(r *http.Request) {
		r.SetBasicAuth(c.username, c.password)
	}, nil, out)

	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		if sentinel, ok := reasonErrors[se.Reason]; ok {
			return fmt.Errorf("%w: %s", sentinel, se.Message)
		}
	}
	return err
}
