package events

import (
	"context"

	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// actionOf returns the action of a request type without an instance.
// Request types implement Action on a pointer receiver that ignores it.
func actionOf[Req ocpp.Request]() ocpp.Action {
	var zero Req
	return zero.Action()
}

// OnRequestOf registers a typed request observer for Req's action.
func OnRequestOf[Req ocpp.Request](b *Bus, fn func(ctx context.Context, ev RequestEvent, req Req) error) {
	b.OnRequest(actionOf[Req](), func(ctx context.Context, ev RequestEvent) error {
		req, ok := ev.Request.(Req)
		if !ok {
			return nil
		}
		return fn(ctx, ev, req)
	})
}

// OnResponseOf registers a typed response observer for Req's action.
func OnResponseOf[Req ocpp.Request, Resp ocpp.Response](b *Bus, fn func(ctx context.Context, ev ResponseEvent, req Req, resp Resp) error) {
	b.OnResponse(actionOf[Req](), func(ctx context.Context, ev ResponseEvent) error {
		req, ok := ev.Request.(Req)
		if !ok {
			return nil
		}
		resp, ok := ev.Response.(Resp)
		if !ok {
			return nil
		}
		return fn(ctx, ev, req, resp)
	})
}
