// Package status holds the lifecycle status of the local process and answers
// status and ping requests from peers.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/models"
)

// ErrNotAvailable is returned when a peer reports a status other than AVAILABLE.
var ErrNotAvailable = errors.New("service not available")

// Tracker owns the local status. It starts UNAVAILABLE.
type Tracker struct {
	serviceID string
	status    atomic.Value // models.ServiceStatus
	logger    zerolog.Logger
}

// NewTracker returns a tracker in the UNAVAILABLE state.
func NewTracker(serviceID string, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		serviceID: serviceID,
		logger:    logger.With().Str("component", "status").Logger(),
	}
	t.status.Store(models.StatusUnavailable)
	return t
}

// Get returns the current status.
func (t *Tracker) Get() models.ServiceStatus {
	return t.status.Load().(models.ServiceStatus)
}

// Set changes the status and returns the previous one.
func (t *Tracker) Set(s models.ServiceStatus) (models.ServiceStatus, error) {
	if !s.Valid() {
		return t.Get(), fmt.Errorf("invalid status %q", s)
	}
	prev := t.status.Swap(s).(models.ServiceStatus)
	if prev != s {
		t.logger.Info().Str("from", string(prev)).Str("to", string(s)).Msg("Status changed")
	}
	return prev, nil
}

// Register answers StatusRequest and PingRequest on svc.
func (t *Tracker) Register(svc *messaging.Service) {
	messaging.HandleRequest(svc, func(context.Context, string, models.StatusRequest) (messaging.Payload, error) {
		return models.StatusResponse{Status: t.Get()}, nil
	})
	messaging.HandleRequest(svc, func(context.Context, string, models.PingRequest) (messaging.Payload, error) {
		return models.PingResponse{ServiceID: t.serviceID}, nil
	})
}

// Query asks target for its status.
func Query(ctx context.Context, svc *messaging.Service, target string, timeout time.Duration) (models.ServiceStatus, error) {
	resp, err := messaging.Request[models.StatusResponse](ctx, svc, target, models.StatusRequest{}, timeout)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// RequireAvailable returns nil only when target answers AVAILABLE.
func RequireAvailable(ctx context.Context, svc *messaging.Service, target string, timeout time.Duration) error {
	s, err := Query(ctx, svc, target, timeout)
	if err != nil {
		return fmt.Errorf("failed to query status of %s: %w", target, err)
	}
	if s != models.StatusAvailable {
		return fmt.Errorf("%w: %s is %s", ErrNotAvailable, target, s)
	}
	return nil
}

// Ping measures the round trip to target and returns the id it answered with.
func Ping(ctx context.Context, svc *messaging.Service, target string, timeout time.Duration) (string, time.Duration, error) {
	start := time.Now()
	resp, err := messaging.Request[models.PingResponse](ctx, svc, target, models.PingRequest{}, timeout)
	if err != nil {
		return "", 0, err
	}
	return resp.ServiceID, time.Since(start), nil
}
