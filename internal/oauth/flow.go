package oauth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/gsarma/sentinel/internal/logger"
	"github.com/gsarma/sentinel/internal/metrics"
	"github.com/gsarma/sentinel/internal/store"
)

const tracerName = "github.com/gsarma/sentinel/internal/oauth"

// DefaultHTTPTimeout bounds every outbound call to a provider.
const DefaultHTTPTimeout = 10 * time.Second

// Coordinator runs the authorization-code flow end to end.
type Coordinator struct {
	registry *Registry
	states   *StateStore
	linker   *Linker
	verifier *IDTokenVerifier
	client   *http.Client
	metrics  *metrics.Metrics
	log      *zap.Logger
	tracer   trace.Tracer
}

// Options wires a Coordinator. Registry, States and Linker are required.
type Options struct {
	Registry   *Registry
	States     *StateStore
	Linker     *Linker
	HTTPClient *http.Client
	// Verifier defaults to one sharing HTTPClient with an hour of caching.
	Verifier *IDTokenVerifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func NewCoordinator(opts Options) *Coordinator {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = NewIDTokenVerifier(client, time.Hour)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		registry: opts.Registry,
		states:   opts.States,
		linker:   opts.Linker,
		verifier: verifier,
		client:   client,
		metrics:  opts.Metrics,
		log:      log,
		tracer:   otel.Tracer(tracerName),
	}
}

// Providers lists the configured providers.
func (c *Coordinator) Providers() []ProviderConfig {
	return c.registry.Providers()
}

// Start begins a login and returns the provider authorization URL.
func (c *Coordinator) Start(ctx context.Context, provider, redirectTarget string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.Start", trace.WithAttributes(attribute.String("oauth.provider", provider)))
	defer span.End()

	url, err := c.start(ctx, provider, redirectTarget, nil)
	c.finish(span, provider, "start", err)
	return url, err
}

// StartLink begins a flow that attaches the provider identity to userID.
func (c *Coordinator) StartLink(ctx context.Context, userID uuid.UUID, provider, redirectTarget string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.StartLink", trace.WithAttributes(
		attribute.String("oauth.provider", provider),
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	url, err := c.startLink(ctx, userID, provider, redirectTarget)
	c.finish(span, provider, "link", err)
	return url, err
}

func (c *Coordinator) startLink(ctx context.Context, userID uuid.UUID, provider, redirectTarget string) (string, error) {
	p, err := ParseProvider(provider)
	if err != nil {
		return "", err
	}
	linked, err := c.linker.HasActiveIdentity(ctx, userID, p)
	if err != nil {
		return "", err
	}
	if linked {
		return "", ErrAlreadyLinked
	}
	return c.start(ctx, provider, redirectTarget, &userID)
}

func (c *Coordinator) start(ctx context.Context, provider, redirectTarget string, linkUserID *uuid.UUID) (string, error) {
	cfg, err := c.registry.ConfigFor(provider)
	if err != nil {
		return "", err
	}
	var verifier string
	if cfg.Behavior.PKCE {
		verifier = oauth2.GenerateVerifier()
	}
	state, err := c.states.Issue(ctx, cfg.Provider, redirectTarget, IssueOptions{
		CodeVerifier: verifier,
		LinkUserID:   linkUserID,
	})
	if err != nil {
		return "", err
	}
	return authCodeURL(cfg, state, verifier), nil
}

// CallbackParams are the query parameters of a provider redirect.
type CallbackParams struct {
	Provider         string
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Result is the outcome of a completed flow.
type Result struct {
	User           *store.User
	Identity       *Identity
	RedirectTarget string
	// Linked is true when the flow carried a link intent.
	Linked bool
}

// HandleCallback processes a provider redirect. A provider-reported error
// short-circuits before the state store is consulted.
func (c *Coordinator) HandleCallback(ctx context.Context, p CallbackParams) (*Result, error) {
	if p.Error != "" {
		err := &ProviderError{Provider: Provider(p.Provider), Code: p.Error, Description: p.ErrorDescription}
		c.metrics.Flow(providerLabel(p.Provider), "callback", outcome(err))
		return nil, err
	}
	if p.Code == "" || p.State == "" {
		c.metrics.Flow(providerLabel(p.Provider), "callback", outcome(ErrInvalidOrExpiredState))
		return nil, ErrInvalidOrExpiredState
	}
	return c.Complete(ctx, p.Provider, p.Code, p.State)
}

// Complete redeems the state, exchanges the code, resolves the identity and
// links it to a local user.
func (c *Coordinator) Complete(ctx context.Context, provider, code, state string) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.Complete", trace.WithAttributes(attribute.String("oauth.provider", provider)))
	defer span.End()

	res, err := c.complete(ctx, provider, code, state)
	c.finish(span, provider, "callback", err)
	if err != nil {
		logger.From(ctx, c.log).Warn("oauth callback failed",
			zap.String("provider", provider), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", res.User.ID.String()))
	logger.From(ctx, c.log).Info("oauth callback completed",
		zap.String("provider", provider),
		zap.String("user_id", res.User.ID.String()),
		zap.Bool("linked", res.Linked))
	return res, nil
}

func (c *Coordinator) complete(ctx context.Context, provider, code, state string) (*Result, error) {
	cfg, err := c.registry.ConfigFor(provider)
	if err != nil {
		return nil, err
	}

	// The state is redeemed before any network call so a replayed or forged
	// callback never reaches the provider.
	st, err := c.states.Consume(ctx, state, cfg.Provider)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	tokens, err := exchangeCode(ctx, c.client, cfg, code, st.CodeVerifier)
	c.metrics.ObserveExchange(string(cfg.Provider), time.Since(began))
	if err != nil {
		return nil, err
	}

	id, err := c.identity(ctx, cfg, tokens)
	if err != nil {
		return nil, err
	}

	user, err := c.linker.LinkOrUpdate(ctx, *id, *tokens, st.LinkUserID)
	if err != nil {
		return nil, err
	}
	return &Result{
		User:           user,
		Identity:       id,
		RedirectTarget: st.RedirectTarget,
		Linked:         st.LinkUserID != nil,
	}, nil
}

// identity prefers the signed identity token and falls back to the
// user-info endpoint.
func (c *Coordinator) identity(ctx context.Context, cfg *ProviderConfig, tokens *Tokens) (*Identity, error) {
	if cfg.Behavior.IDToken && tokens.IDToken != "" {
		return c.verifier.Verify(ctx, cfg, tokens.IDToken)
	}
	return fetchUserInfo(ctx, c.client, cfg, tokens.AccessToken)
}

// Unlink removes the provider from the user's login methods.
func (c *Coordinator) Unlink(ctx context.Context, userID uuid.UUID, provider string) error {
	ctx, span := c.tracer.Start(ctx, "oauth.Unlink", trace.WithAttributes(attribute.String("oauth.provider", provider)))
	defer span.End()

	p, err := ParseProvider(provider)
	if err == nil {
		err = c.linker.Unlink(ctx, userID, p)
	}
	c.finish(span, provider, "unlink", err)
	return err
}

func (c *Coordinator) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	return c.linker.SetPassword(ctx, userID, password)
}

func (c *Coordinator) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	return c.linker.Profile(ctx, userID)
}

func (c *Coordinator) finish(span trace.Span, provider, step string, err error) {
	c.metrics.Flow(providerLabel(provider), step, outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
	}
}

// providerLabel keeps metric labels to the known provider set.
func providerLabel(name string) string {
	p, err := ParseProvider(name)
	if err != nil {
		return "unknown"
	}
	return string(p)
}

// outcome is a low-cardinality label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrInvalidOrExpiredState):
		return "invalid_state"
	case errors.Is(err, ErrOAuthProviderError):
		return "provider_error"
	case errors.Is(err, ErrTokenExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, ErrIdentityClaimsUnavailable):
		return "claims_unavailable"
	case errors.Is(err, ErrIdentityInUse):
		return "identity_in_use"
	case errors.Is(err, ErrAlreadyLinked):
		return "already_linked"
	case errors.Is(err, ErrNotLinked):
		return "not_linked"
	case errors.Is(err, ErrLastAuthMethod):
		return "last_auth_method"
	default:
		return "error"
	}
}
