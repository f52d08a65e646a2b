// Package rest implements a platform over a JSON REST API.
//
// Routes, relative to the base URL, with {kind} pluralized:
//
//	GET    /{kind}/{id}
//	GET    /{kind}/by-key/{key}
//	GET    /{kind}?name={query}
//	POST   /{kind}
//	PUT    /{kind}/{id}
//	DELETE /{kind}/{id}
//	PUT    /{kind}/{id}/published
package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/agentstation/taxonsync/internal/transport"
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/platform"
)

// ListResponse is the body of a search.
type ListResponse struct {
	Items []platform.Resource `json:"items"`
}

// PublishRequest is the body of a publish toggle.
type PublishRequest struct {
	Published bool `json:"published"`
}

// Collection returns the URL segment for a kind.
func Collection(kind catalog.Kind) string {
	return kind.String() + "s"
}

// Platform talks to a REST platform.
type Platform struct {
	id     catalog.PlatformID
	client *transport.Client
}

var _ platform.Platform = (*Platform)(nil)

// New creates a REST platform using client for every request.
func New(id catalog.PlatformID, client *transport.Client) *Platform {
	return &Platform{id: id, client: client}
}

// ID implements platform.Platform.
func (p *Platform) ID() catalog.PlatformID {
	return p.id
}

// Get implements platform.Platform.
func (p *Platform) Get(ctx context.Context, kind catalog.Kind, id string) (platform.Resource, error) {
	var r platform.Resource
	err := p.client.Do(ctx, http.MethodGet, resourcePath(kind, id), nil, nil, &r)
	return p.resource(r, kind, err)
}

// FindByKey implements platform.Platform.
func (p *Platform) FindByKey(ctx context.Context, kind catalog.Kind, key string) (platform.Resource, error) {
	var r platform.Resource
	err := p.client.Do(ctx, http.MethodGet, "/"+Collection(kind)+"/by-key/"+url.PathEscape(key), nil, nil, &r)
	return p.resource(r, kind, err)
}

// SearchByName implements platform.Platform.
func (p *Platform) SearchByName(ctx context.Context, kind catalog.Kind, query string) ([]platform.Resource, error) {
	var list ListResponse
	if err := p.client.Do(ctx, http.MethodGet, "/"+Collection(kind), url.Values{"name": {query}}, nil, &list); err != nil {
		return nil, err
	}
	for i := range list.Items {
		if list.Items[i].Kind == "" {
			list.Items[i].Kind = kind
		}
	}
	return list.Items, nil
}

// Create implements platform.Platform.
func (p *Platform) Create(ctx context.Context, kind catalog.Kind, draft platform.Draft) (platform.Resource, error) {
	var r platform.Resource
	err := p.client.Do(ctx, http.MethodPost, "/"+Collection(kind), nil, draft, &r)
	return p.written(r, kind, draft.Key, err)
}

// Update implements platform.Platform.
func (p *Platform) Update(ctx context.Context, kind catalog.Kind, id string, draft platform.Draft) (platform.Resource, error) {
	var r platform.Resource
	err := p.client.Do(ctx, http.MethodPut, resourcePath(kind, id), nil, draft, &r)
	return p.written(r, kind, draft.Key, err)
}

// Delete implements platform.Platform.
func (p *Platform) Delete(ctx context.Context, kind catalog.Kind, id string) error {
	return p.client.Do(ctx, http.MethodDelete, resourcePath(kind, id), nil, nil, nil)
}

// SetPublished implements platform.Platform.
func (p *Platform) SetPublished(ctx context.Context, kind catalog.Kind, id string, published bool) error {
	return p.client.Do(ctx, http.MethodPut, resourcePath(kind, id)+"/published", nil, PublishRequest{Published: published}, nil)
}

func (p *Platform) resource(r platform.Resource, kind catalog.Kind, err error) (platform.Resource, error) {
	if err != nil {
		return platform.Resource{}, err
	}
	if r.Kind == "" {
		r.Kind = kind
	}
	return r, nil
}

// written completes the context of a conflict reported by the transport.
func (p *Platform) written(r platform.Resource, kind catalog.Kind, key string, err error) (platform.Resource, error) {
	var conflict *errors.ConflictError
	if errors.As(err, &conflict) {
		conflict.Kind = kind.String()
		conflict.Key = key
		return platform.Resource{}, conflict
	}
	return p.resource(r, kind, err)
}

func resourcePath(kind catalog.Kind, id string) string {
	return "/" + Collection(kind) + "/" + url.PathEscape(id)
}
