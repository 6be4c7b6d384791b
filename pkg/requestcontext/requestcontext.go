// Package requestcontext carries request-scoped values set by middleware:
// request id, client metadata and the authenticated actor.
package requestcontext

import (
	"context"

	"degreeproof/pkg/domain"
)

type (
	requestIDKey struct{}
	clientKey    struct{}
	actorKey     struct{}
)

// Client describes the caller's network origin and user agent.
type Client struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"-"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Mobile    bool   `json:"mobile,omitempty"`
	Bot       bool   `json:"bot,omitempty"`
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id, or "" outside an HTTP request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

func ClientInfo(ctx context.Context) Client {
	c, _ := ctx.Value(clientKey{}).(Client)
	return c
}

func ClientIP(ctx context.Context) string {
	return ClientInfo(ctx).IP
}

func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// Actor returns the authenticated actor and whether one was set.
func Actor(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}
