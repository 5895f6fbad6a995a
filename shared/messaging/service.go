// Package messaging implements typed fire-and-forget messages and correlated
// request/response calls on top of the broker.
//
// Every process listens on its own channel (service-messages-<id>) and on the
// global channel. Requests carry a correlation id and a reply channel; the
// first valid response for a correlation id completes the call, later ones are
// dropped.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/metrics"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
	"github.com/Ftotnem/duels-network/shared/registry"
)

const tracerName = "github.com/Ftotnem/duels-network/shared/messaging"

// RequestHandler answers one inbound request. Returning a nil Payload sends no
// reply; returning an error sends a RemoteError.
type RequestHandler func(ctx context.Context, from string, req Payload) (Payload, error)

// MessageHandler consumes one inbound message.
type MessageHandler func(ctx context.Context, from string, msg Payload)

// Resolver finds a live peer of a kind.
type Resolver interface {
	FindOneOfType(kind registry.ServiceKind) (registry.PeerRecord, error)
}

// Config tunes a Service.
type Config struct {
	ServiceID string
	// RequestTimeout applies when a caller passes a zero timeout.
	RequestTimeout time.Duration
	// GlobalWindow is how long a global request collects responses by default.
	GlobalWindow time.Duration
	// DedupWindow is how long a handled request id is remembered.
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.GlobalWindow <= 0 {
		c.GlobalWindow = 50 * time.Millisecond
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Minute
	}
	return c
}

type callResult struct {
	payload Payload
	err     error
}

// pendingCall is one outstanding targeted request. result has capacity one and
// is written only by whoever removes the call from the pending map.
type pendingCall struct {
	expectedKind string
	result       chan callResult
}

// globalCall collects responses to one global request until closed.
type globalCall struct {
	expectedKind string
	mu           sync.Mutex
	responses    []Payload
	closed       bool
}

func (g *globalCall) add(p Payload) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.responses = append(g.responses, p)
	return true
}

func (g *globalCall) close() []Payload {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return append([]Payload(nil), g.responses...)
}

// Service is the messaging endpoint of one process.
type Service struct {
	broker   broker.Broker
	codec    *Codec
	resolver Resolver
	cfg      Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	requestHandlers sync.Map // kind -> RequestHandler
	messageHandlers sync.Map // kind -> MessageHandler
	pending         sync.Map // correlation id -> *pendingCall
	pendingGlobal   sync.Map // correlation id -> *globalCall

	dedupMu   sync.Mutex
	seen      map[string]time.Time
	lastPrune time.Time

	mu      sync.Mutex
	subs    []broker.Subscription
	stopped bool
}

// NewService creates a messaging endpoint. resolver may be nil when
// SendRequestToKind is never used.
func NewService(b broker.Broker, codec *Codec, resolver Resolver, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		broker:     b,
		codec:      codec,
		resolver:   resolver,
		cfg:        cfg.withDefaults(),
		logger:     logger.With().Str("component", "messaging").Logger(),
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
		seen:       make(map[string]time.Time),
		lastPrune:  time.Now(),
	}
}

// ServiceID is the id this endpoint sends as and listens for.
func (s *Service) ServiceID() string { return s.cfg.ServiceID }

// Codec is the payload registry used by this endpoint.
func (s *Service) Codec() *Codec { return s.codec }

// Start subscribes to this process's channel and the global channel.
func (s *Service) Start(ctx context.Context) error {
	own := redisu.ServiceChannel(s.cfg.ServiceID)

	s.broker.OnSubscriptionLost(func(channel string, err error) {
		if channel == own {
			s.failPending(fmt.Errorf("%w: subscription to %s lost: %w", broker.ErrBrokerUnavailable, channel, err))
		}
	})

	for _, channel := range []string{own, redisu.GlobalChannel} {
		sub, err := s.broker.Subscribe(ctx, channel, s.receive)
		if err != nil {
			s.closeSubscriptions()
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}

	s.logger.Info().Str("channel", own).Msg("Messaging service started")
	return nil
}

// Stop unsubscribes and fails every outstanding call with ErrStopped.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.closeSubscriptions()
	s.failPending(ErrStopped)
	s.logger.Info().Msg("Messaging service stopped")
}

func (s *Service) closeSubscriptions() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			s.logger.Warn().Err(err).Str("channel", sub.Channel()).Msg("Failed to close subscription")
		}
	}
}

func (s *Service) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// RegisterHandler installs the handler for a request kind, replacing any
// previous one.
func (s *Service) RegisterHandler(kind string, h RequestHandler) {
	s.requestHandlers.Store(kind, h)
}

// RegisterMessageHandler installs the handler for a message kind, replacing any
// previous one.
func (s *Service) RegisterMessageHandler(kind string, h MessageHandler) {
	s.messageHandlers.Store(kind, h)
}

// SendMessage publishes msg to one service.
func (s *Service) SendMessage(ctx context.Context, target string, msg Payload) error {
	return s.send(ctx, redisu.ServiceChannel(target), target, msg)
}

// SendGlobalMessage publishes msg to every service, this one included.
func (s *Service) SendGlobalMessage(ctx context.Context, msg Payload) error {
	return s.send(ctx, redisu.GlobalChannel, GlobalTarget, msg)
}

func (s *Service) send(ctx context.Context, channel, target string, msg Payload) error {
	if s.isStopped() {
		return ErrStopped
	}
	env, err := s.codec.Encode(ClassMessage, msg)
	if err != nil {
		return err
	}
	env.CorrelationID = uuid.NewString()
	env.SenderID = s.cfg.ServiceID
	env.TargetID = target
	s.inject(ctx, &env)
	return s.publish(ctx, channel, env)
}

// SendRequest sends req to target and waits for a response of expectedKind.
// The call ends with the first matching response, ErrTimeout once timeout
// elapses, or ctx.Err() when ctx is done first. A zero timeout uses the
// configured default.
func (s *Service) SendRequest(ctx context.Context, target string, req Payload, expectedKind string, timeout time.Duration) (Payload, error) {
	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}
	if s.isStopped() {
		return nil, ErrStopped
	}

	start := time.Now()
	channel := redisu.ServiceChannel(target)
	ctx, span := s.tracer.Start(ctx, "request "+req.Kind(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("redis"),
			semconv.MessagingDestinationName(channel),
			attribute.String("messaging.payload_kind", req.Kind()),
		))
	defer span.End()

	env, err := s.codec.Encode(ClassRequest, req)
	if err != nil {
		s.endSpan(span, err)
		return nil, err
	}
	corr := uuid.NewString()
	env.CorrelationID = corr
	env.SenderID = s.cfg.ServiceID
	env.TargetID = target
	env.ReplyTo = redisu.ServiceChannel(s.cfg.ServiceID)
	span.SetAttributes(semconv.MessagingMessageID(corr))
	s.inject(ctx, &env)

	call := &pendingCall{expectedKind: expectedKind, result: make(chan callResult, 1)}
	s.pending.Store(corr, call)

	if err := s.publish(ctx, channel, env); err != nil {
		s.pending.Delete(corr)
		s.metrics.ObserveRPC(req.Kind(), "unavailable", time.Since(start))
		s.endSpan(span, err)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res callResult
	outcome := "ok"
	select {
	case res = <-call.result:
	case <-timer.C:
		if s.pending.CompareAndDelete(corr, call) {
			res = callResult{err: fmt.Errorf("%w: %s to %s after %s", ErrTimeout, req.Kind(), target, timeout)}
			outcome = "timeout"
		} else {
			res = <-call.result
		}
	case <-ctx.Done():
		if s.pending.CompareAndDelete(corr, call) {
			res = callResult{err: ctx.Err()}
			outcome = "canceled"
		} else {
			res = <-call.result
		}
	}
	if res.err != nil && outcome == "ok" {
		outcome = "error"
	}

	s.metrics.ObserveRPC(req.Kind(), outcome, time.Since(start))
	s.endSpan(span, res.err)
	return res.payload, res.err
}

// SendRequestToKind sends req to the least-loaded live peer of kind.
func (s *Service) SendRequestToKind(ctx context.Context, kind registry.ServiceKind, req Payload, expectedKind string, timeout time.Duration) (Payload, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("%w: no resolver configured", ErrNoSuchService)
	}
	peer, err := s.resolver.FindOneOfType(kind)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, peer.Identity.ID, req, expectedKind, timeout)
}

// SendGlobalRequest broadcasts req and collects every response of expectedKind
// that arrives within window, in arrival order. An empty result is not an
// error. A zero window uses the configured default.
func (s *Service) SendGlobalRequest(ctx context.Context, req Payload, expectedKind string, window time.Duration) ([]Payload, error) {
	if window <= 0 {
		window = s.cfg.GlobalWindow
	}
	if s.isStopped() {
		return nil, ErrStopped
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "global request "+req.Kind(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("redis"),
			semconv.MessagingDestinationName(redisu.GlobalChannel),
			attribute.String("messaging.payload_kind", req.Kind()),
		))
	defer span.End()

	env, err := s.codec.Encode(ClassRequest, req)
	if err != nil {
		s.endSpan(span, err)
		return nil, err
	}
	corr := uuid.NewString()
	env.CorrelationID = corr
	env.SenderID = s.cfg.ServiceID
	env.TargetID = GlobalTarget
	env.ReplyTo = redisu.ServiceChannel(s.cfg.ServiceID)
	s.inject(ctx, &env)

	call := &globalCall{expectedKind: expectedKind}
	s.pendingGlobal.Store(corr, call)
	defer s.pendingGlobal.Delete(corr)

	if err := s.publish(ctx, redisu.GlobalChannel, env); err != nil {
		s.metrics.ObserveRPC(req.Kind(), "unavailable", time.Since(start))
		s.endSpan(span, err)
		return nil, err
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-timer.C:
		responses := call.close()
		span.SetAttributes(attribute.Int("messaging.responses", len(responses)))
		s.metrics.ObserveRPC(req.Kind(), "ok", time.Since(start))
		return responses, nil
	case <-ctx.Done():
		call.close()
		s.metrics.ObserveRPC(req.Kind(), "canceled", time.Since(start))
		s.endSpan(span, ctx.Err())
		return nil, ctx.Err()
	}
}

func (s *Service) publish(ctx context.Context, channel string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return s.broker.Publish(ctx, channel, data)
}

// failPending completes every outstanding targeted call with err. Global calls
// simply close at the end of their window.
func (s *Service) failPending(err error) {
	failed := 0
	s.pending.Range(func(key, value any) bool {
		call := value.(*pendingCall)
		if s.pending.CompareAndDelete(key, call) {
			call.result <- callResult{err: err}
			failed++
		}
		return true
	})
	if failed > 0 {
		s.logger.Warn().Err(err).Int("calls", failed).Msg("Failed outstanding requests")
	}
}

// receive is the broker handler for both channels. It runs on its own goroutine
// per envelope.
func (s *Service) receive(ctx context.Context, data []byte) {
	env, err := decodeEnvelope(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed envelope")
		s.metrics.EnvelopeDropped("malformed")
		return
	}
	if env.TargetID != s.cfg.ServiceID && env.TargetID != GlobalTarget {
		s.metrics.EnvelopeDropped("misaddressed")
		return
	}
	s.metrics.EnvelopeReceived(string(env.Class), env.Kind)

	switch env.Class {
	case ClassResponse:
		s.handleResponse(env)
	case ClassRequest:
		s.handleRequest(ctx, env)
	case ClassMessage:
		s.handleMessage(ctx, env)
	}
}

func (s *Service) handleResponse(env Envelope) {
	log := s.logger.With().Str("correlation_id", env.CorrelationID).Str("kind", env.Kind).
		Str("sender_id", env.SenderID).Logger()

	if value, ok := s.pending.Load(env.CorrelationID); ok {
		call := value.(*pendingCall)
		if env.Kind != call.expectedKind && env.Kind != (RemoteError{}).Kind() {
			log.Warn().Str("expected", call.expectedKind).Msg("Dropping response of unexpected kind")
			s.metrics.EnvelopeDropped("unexpected_kind")
			return
		}

		res := callResult{}
		res.payload, res.err = s.codec.Decode(env)
		if remote, isRemote := res.payload.(RemoteError); isRemote {
			res = callResult{err: remote.Err()}
		}
		if s.pending.CompareAndDelete(env.CorrelationID, call) {
			call.result <- res
			return
		}
		log.Debug().Msg("Dropping duplicate response")
		s.metrics.EnvelopeDropped("duplicate_response")
		return
	}

	if value, ok := s.pendingGlobal.Load(env.CorrelationID); ok {
		call := value.(*globalCall)
		if env.Kind != call.expectedKind {
			log.Debug().Str("expected", call.expectedKind).Msg("Dropping global response of unexpected kind")
			s.metrics.EnvelopeDropped("unexpected_kind")
			return
		}
		payload, err := s.codec.Decode(env)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping undecodable global response")
			s.metrics.EnvelopeDropped("undecodable")
			return
		}
		if !call.add(payload) {
			s.metrics.EnvelopeDropped("late_response")
		}
		return
	}

	log.Debug().Msg("Dropping late or unknown response")
	s.metrics.EnvelopeDropped("late_response")
}

func (s *Service) handleRequest(ctx context.Context, env Envelope) {
	log := s.logger.With().Str("correlation_id", env.CorrelationID).Str("kind", env.Kind).
		Str("sender_id", env.SenderID).Logger()

	if s.seenBefore(env.SenderID, env.CorrelationID) {
		log.Debug().Msg("Dropping duplicate request")
		s.metrics.EnvelopeDropped("duplicate_request")
		return
	}

	value, ok := s.requestHandlers.Load(env.Kind)
	if !ok {
		// A global request is legitimately ignored by services that do not serve it.
		if env.TargetID == GlobalTarget {
			log.Debug().Msg("No handler for global request")
		} else {
			log.Warn().Err(ErrHandlerNotRegistered).Msg("Dropping request")
		}
		s.metrics.EnvelopeDropped("no_handler")
		return
	}

	req, err := s.codec.Decode(env)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping undecodable request")
		s.metrics.EnvelopeDropped("undecodable")
		return
	}

	ctx, span := s.startHandleSpan(ctx, env)
	defer span.End()

	resp, err := invokeRequest(ctx, value.(RequestHandler), env.SenderID, req)
	if err != nil {
		log.Error().Err(err).Msg("Request handler failed")
		s.endSpan(span, err)
		resp = RemoteError{Message: err.Error()}
	}
	if resp == nil {
		return
	}

	out, err := s.codec.Encode(ClassResponse, resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		s.endSpan(span, err)
		return
	}
	out.CorrelationID = env.CorrelationID
	out.SenderID = s.cfg.ServiceID
	out.TargetID = env.SenderID
	s.inject(ctx, &out)

	replyTo := env.ReplyTo
	if replyTo == "" {
		replyTo = redisu.ServiceChannel(env.SenderID)
	}
	if err := s.publish(ctx, replyTo, out); err != nil {
		log.Error().Err(err).Str("channel", replyTo).Msg("Failed to publish response")
		s.endSpan(span, err)
	}
}

func (s *Service) handleMessage(ctx context.Context, env Envelope) {
	value, ok := s.messageHandlers.Load(env.Kind)
	if !ok {
		s.logger.Debug().Str("kind", env.Kind).Str("sender_id", env.SenderID).Msg("No handler for message")
		s.metrics.EnvelopeDropped("no_handler")
		return
	}
	msg, err := s.codec.Decode(env)
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", env.Kind).Msg("Dropping undecodable message")
		s.metrics.EnvelopeDropped("undecodable")
		return
	}

	ctx, span := s.startHandleSpan(ctx, env)
	defer span.End()

	if err := invokeMessage(ctx, value.(MessageHandler), env.SenderID, msg); err != nil {
		s.logger.Error().Err(err).Str("kind", env.Kind).Msg("Message handler failed")
		s.endSpan(span, err)
	}
}

func invokeRequest(ctx context.Context, h RequestHandler, from string, req Payload) (resp Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("handler for %s panicked: %v", req.Kind(), r)
		}
	}()
	return h(ctx, from, req)
}

func invokeMessage(ctx context.Context, h MessageHandler, from string, msg Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", msg.Kind(), r)
		}
	}()
	h(ctx, from, msg)
	return nil
}

// seenBefore records sender/correlation id and reports whether it was already
// present within the dedup window.
func (s *Service) seenBefore(sender, correlationID string) bool {
	key := sender + "/" + correlationID
	now := time.Now()

	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()

	if now.Sub(s.lastPrune) > s.cfg.DedupWindow {
		for k, at := range s.seen {
			if now.Sub(at) > s.cfg.DedupWindow {
				delete(s.seen, k)
			}
		}
		s.lastPrune = now
	}
	if at, ok := s.seen[key]; ok && now.Sub(at) <= s.cfg.DedupWindow {
		return true
	}
	s.seen[key] = now
	return false
}

func (s *Service) inject(ctx context.Context, env *Envelope) {
	carrier := propagation.MapCarrier{}
	s.propagator.Inject(ctx, carrier)
	if len(carrier) > 0 {
		env.Trace = carrier
	}
}

func (s *Service) startHandleSpan(ctx context.Context, env Envelope) (context.Context, trace.Span) {
	if len(env.Trace) > 0 {
		ctx = s.propagator.Extract(ctx, propagation.MapCarrier(env.Trace))
	}
	return s.tracer.Start(ctx, "handle "+env.Kind,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("redis"),
			semconv.MessagingMessageID(env.CorrelationID),
			attribute.String("messaging.sender_id", env.SenderID),
			attribute.String("messaging.class", string(env.Class)),
		))
}

func (s *Service) endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
