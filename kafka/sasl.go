package kafka

import (
	"context"
	"crypto/tls"
	"fmt"

	ksasl "github.com/segmentio/kafka-go/sasl"
	kplain "github.com/segmentio/kafka-go/sasl/plain"
	kscram "github.com/segmentio/kafka-go/sasl/scram"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// franzSASL returns the franz-go mechanism for the configured SASL settings,
// or nil when SASL is off.
func (c Config) franzSASL() (sasl.Mechanism, error) {
	switch c.SASLMechanism {
	case SASLNone:
		return nil, nil
	case SASLPlain:
		return plain.Auth{User: c.Username, Pass: c.Password}.AsMechanism(), nil
	case SASLScramSHA256:
		return scram.Auth{User: c.Username, Pass: c.Password}.AsSha256Mechanism(), nil
	case SASLScramSHA512:
		return scram.Auth{User: c.Username, Pass: c.Password}.AsSha512Mechanism(), nil
	case SASLOAuthBearer:
		if c.TokenProvider != nil {
			provider := c.TokenProvider
			return bearerMechanism(func(context.Context) (string, error) { return provider() }), nil
		}
		return NewGCPOAuthMechanism(), nil
	}
	return nil, fmt.Errorf("kafka: unsupported sasl mechanism %q", c.SASLMechanism)
}

// segmentioSASL is franzSASL for kafka-go, which has no OAUTHBEARER support.
func (c Config) segmentioSASL() (ksasl.Mechanism, error) {
	switch c.SASLMechanism {
	case SASLNone:
		return nil, nil
	case SASLPlain:
		return kplain.Mechanism{Username: c.Username, Password: c.Password}, nil
	case SASLScramSHA256:
		return kscram.Mechanism(kscram.SHA256, c.Username, c.Password)
	case SASLScramSHA512:
		return kscram.Mechanism(kscram.SHA512, c.Username, c.Password)
	}
	return nil, fmt.Errorf("kafka: sasl mechanism %q is not supported by the %s transport", c.SASLMechanism, TransportSegmentio)
}

// tlsConfig returns the TLS settings for networked transports, or nil when
// TLS is off. SASL may run over plaintext.
func (c Config) tlsConfig() *tls.Config {
	if !c.TLSEnabled {
		return nil
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}
}
