package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/Ftotnem/duels-network/shared/registry"
)

// Request sends req to target and returns the response as T.
func Request[T Payload](ctx context.Context, s *Service, target string, req Payload, timeout time.Duration) (T, error) {
	var zero T
	resp, err := s.SendRequest(ctx, target, req, zero.Kind(), timeout)
	if err != nil {
		return zero, err
	}
	return asResponse[T](resp)
}

// RequestKind sends req to the least-loaded live peer of kind and returns the
// response as T.
func RequestKind[T Payload](ctx context.Context, s *Service, kind registry.ServiceKind, req Payload, timeout time.Duration) (T, error) {
	var zero T
	resp, err := s.SendRequestToKind(ctx, kind, req, zero.Kind(), timeout)
	if err != nil {
		return zero, err
	}
	return asResponse[T](resp)
}

// GlobalRequest broadcasts req and returns every T received within window.
func GlobalRequest[T Payload](ctx context.Context, s *Service, req Payload, window time.Duration) ([]T, error) {
	var zero T
	resps, err := s.SendGlobalRequest(ctx, req, zero.Kind(), window)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(resps))
	for _, r := range resps {
		if typed, ok := r.(T); ok {
			out = append(out, typed)
		}
	}
	return out, nil
}

func asResponse[T Payload](resp Payload) (T, error) {
	typed, ok := resp.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: got %T, want %T", ErrUnexpectedResponse, resp, zero)
	}
	return typed, nil
}

// HandleRequest registers fn for requests of type Q. fn may return a nil
// Payload to stay silent.
func HandleRequest[Q Payload](s *Service, fn func(ctx context.Context, from string, req Q) (Payload, error)) {
	var zero Q
	s.RegisterHandler(zero.Kind(), func(ctx context.Context, from string, p Payload) (Payload, error) {
		req, ok := p.(Q)
		if !ok {
			return nil, fmt.Errorf("unexpected request type %T for %s", p, zero.Kind())
		}
		return fn(ctx, from, req)
	})
}

// HandleMessage registers fn for messages of type M.
func HandleMessage[M Payload](s *Service, fn func(ctx context.Context, from string, msg M)) {
	var zero M
	s.RegisterMessageHandler(zero.Kind(), func(ctx context.Context, from string, p Payload) {
		if msg, ok := p.(M); ok {
			fn(ctx, from, msg)
		}
	})
}
