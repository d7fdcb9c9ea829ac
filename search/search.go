// Package search defines the text-search capability: providers answer a
// query with ranked results carrying markdown summaries.
package search

import (
	"context"
	"encoding/json"

	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/worker"
)

// MethodSearch is the wire method for search calls.
const MethodSearch = "search"

// Query holds parameters for one search call.
type Query struct {
	// Text is the search query.
	Text string `json:"text"`
	// MaxResults caps the result count. Zero means provider default.
	MaxResults int `json:"max_results,omitempty"`
	// Site restricts results to one domain, when the provider supports it.
	Site string `json:"site,omitempty"`
}

// Result is one ranked search hit.
type Result struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	// Summary is a markdown rendering of the hit's relevant content.
	Summary string `json:"summary,omitempty"`
	Rank    int    `json:"rank"`
}

// Response holds the full result set of one query.
type Response struct {
	Results []Result `json:"results"`
}

// Driver is what a search provider implements.
type Driver interface {
	plugin.Plugin

	Search(ctx context.Context, q Query) (*Response, error)
}

// Serve builds the worker runtime for a search driver.
func Serve(d Driver, opts ...worker.Option) *worker.Runtime {
	rt := worker.NewRuntime(d, opts...)
	rt.Handle(MethodSearch, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var q Query
		if err := json.Unmarshal(payload, &q); err != nil {
			return nil, errors.InvalidInput(err.Error())
		}
		if q.Text == "" {
			return nil, errors.InvalidInput("text is required")
		}
		return d.Search(ctx, q)
	})
	return rt
}

// Invoker forwards capability calls to a provider. *router.Router
// implements it.
type Invoker interface {
	Invoke(ctx context.Context, providerID, method string, payload any) (json.RawMessage, error)
}

// Client is the host-side search API over a provider.
type Client struct {
	invoker    Invoker
	providerID string
}

// NewClient creates a Client bound to one provider id.
func NewClient(invoker Invoker, providerID string) *Client {
	return &Client{invoker: invoker, providerID: providerID}
}

// Search runs one query against the provider.
func (c *Client) Search(ctx context.Context, q Query) (*Response, error) {
	raw, err := c.invoker.Invoke(ctx, c.providerID, MethodSearch, q)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Internal(err)
	}
	return &resp, nil
}
