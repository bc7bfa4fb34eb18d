package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/oauth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const gcpKafkaScope = "https://www.googleapis.com/auth/cloud-platform"

// bearerMechanism is OAUTHBEARER with a token fetched on every broker
// handshake.
func bearerMechanism(fetch func(context.Context) (string, error)) sasl.Mechanism {
	return oauth.Oauth(func(ctx context.Context) (oauth.Auth, error) {
		token, err := fetch(ctx)
		if err != nil {
			return oauth.Auth{}, fmt.Errorf("kafka: oauth token: %w", err)
		}
		return oauth.Auth{Token: token}, nil
	})
}

// GCPTokenProvider serves access tokens for GCP Managed Kafka from Google
// default credentials.
type GCPTokenProvider struct {
	newSource func(ctx context.Context) (oauth2.TokenSource, error)
	// refresh this long before expiry
	buffer time.Duration

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

func NewGCPTokenProvider() *GCPTokenProvider {
	return &GCPTokenProvider{
		buffer: 5 * time.Minute,
		newSource: func(ctx context.Context) (oauth2.TokenSource, error) {
			return google.DefaultTokenSource(ctx, gcpKafkaScope)
		},
	}
}

// Token returns the cached access token, fetching one when none is cached or
// the cached one is within the buffer of its expiry.
func (p *GCPTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	token, ok := p.cached()
	p.mu.RUnlock()
	if ok {
		return token, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if token, ok := p.cached(); ok {
		return token, nil
	}

	ts, err := p.newSource(ctx)
	if err != nil {
		return "", err
	}
	tok, err := ts.Token()
	if err != nil {
		return "", err
	}

	p.token, p.expiry = tok.AccessToken, tok.Expiry
	return p.token, nil
}

func (p *GCPTokenProvider) cached() (string, bool) {
	if p.token == "" || !time.Now().Before(p.expiry.Add(-p.buffer)) {
		return "", false
	}
	return p.token, true
}

func NewGCPOAuthMechanism() sasl.Mechanism {
	return bearerMechanism(NewGCPTokenProvider().Token)
}
