package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/printy-garments/api/internal/platform/config"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

var ErrProviderClosed = errors.New("firestore: provider is closed")

// dialOutcome is what the leading goroutine hands to everyone who waited on
// the same dial.
type dialOutcome struct {
	client *firestore.Client
	err    error
}

// Provider owns the process-wide Firestore client. Creation is deferred to
// the first repository call and concurrent callers wait on the same dial.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	clientOpts  []option.ClientOption

	stateMu sync.Mutex
	initCh  chan dialOutcome
	client  *firestore.Client

	closed atomic.Bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithDialTimeout bounds how long the initial dial may take.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout <= 0 {
			return
		}
		p.dialTimeout = timeout
	}
}

// WithClientOptions appends client options applied during initialisation.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewProvider builds a Provider from the Firestore section of the config.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{cfg: cfg, dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// Client returns the shared client, dialing it on first use.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}

	for {
		if p.closed.Load() {
			return nil, ErrProviderClosed
		}

		client, waitCh, leader := p.joinInit()
		switch {
		case client != nil:
			return client, nil
		case !leader:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case outcome, ok := <-waitCh:
				if !ok || (outcome.client == nil && outcome.err == nil) {
					// The channel drained before we read it; re-check state.
					continue
				}
				if outcome.err != nil {
					return nil, outcome.err
				}
				if p.closed.Load() {
					return nil, ErrProviderClosed
				}
				return outcome.client, nil
			}
		}

		client, err := p.dial(ctx)
		p.publishInit(waitCh, client, err)
		if err != nil {
			return nil, err
		}
		if p.closed.Load() {
			return nil, ErrProviderClosed
		}
		return client, nil
	}
}

// joinInit either returns the live client, registers the caller as the
// leading dialer, or hands back the channel an in-flight dial will resolve.
func (p *Provider) joinInit() (*firestore.Client, chan dialOutcome, bool) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.client != nil || p.closed.Load() {
		return p.client, nil, false
	}
	if p.initCh != nil {
		return nil, p.initCh, false
	}
	p.initCh = make(chan dialOutcome, 1)
	return nil, p.initCh, true
}

func (p *Provider) publishInit(waitCh chan dialOutcome, client *firestore.Client, err error) {
	p.stateMu.Lock()
	if err == nil {
		p.client = client
	}
	p.initCh = nil
	p.stateMu.Unlock()

	waitCh <- dialOutcome{client: client, err: err}
	close(waitCh)
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	if p.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.dialTimeout)
		defer cancel()
	}

	projectID := strings.TrimSpace(p.cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	opts := append([]option.ClientOption(nil), p.clientOpts...)
	if host := p.emulatorHost(); host != "" {
		if os.Getenv(envEmulatorHost) == "" {
			_ = os.Setenv(envEmulatorHost, host)
		}
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

// Close tears down the client. A closed Provider stays closed.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || p.closed.Load() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := p.detachClient(ctx)
	if err != nil || client == nil {
		return err
	}
	return closeBounded(ctx, client)
}

// detachClient marks the provider closed and takes ownership of the client,
// waiting out any in-flight dial first.
func (p *Provider) detachClient(ctx context.Context) (*firestore.Client, error) {
	for {
		p.stateMu.Lock()
		if p.closed.Load() {
			p.stateMu.Unlock()
			return nil, nil
		}
		waitCh := p.initCh
		if waitCh == nil {
			p.closed.Store(true)
			client := p.client
			p.client = nil
			p.stateMu.Unlock()
			return client, nil
		}
		p.stateMu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCh:
		}
	}
}

// closeBounded closes the client but gives up when the context expires, since
// firestore.Client.Close does not take one.
func closeBounded(ctx context.Context, client *firestore.Client) error {
	done := make(chan error, 1)
	go func() { done <- client.Close() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// RunTransaction runs fn inside a transaction on the shared client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

func (p *Provider) emulatorHost() string {
	if host := strings.TrimSpace(p.cfg.EmulatorHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}
