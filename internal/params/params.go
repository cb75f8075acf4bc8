// Package params wraps SSM Parameter Store and Secrets Manager lookups.
// Values are cached for the process lifetime; the provider is constructed
// once in main and passed by reference to everything that needs it.
package params

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
)

type Provider struct {
	ssm ssmiface.SSMAPI
	sm  secretsmanageriface.SecretsManagerAPI

	mu      sync.Mutex
	params  map[string]string
	secrets map[string]map[string]string
}

func NewProvider(sess *session.Session) *Provider {
	return &Provider{
		ssm:     ssm.New(sess),
		sm:      secretsmanager.New(sess),
		params:  map[string]string{},
		secrets: map[string]map[string]string{},
	}
}

// NewProviderWithClients is for tests.
func NewProviderWithClients(ssmClient ssmiface.SSMAPI, smClient secretsmanageriface.SecretsManagerAPI) *Provider {
	return &Provider{
		ssm:     ssmClient,
		sm:      smClient,
		params:  map[string]string{},
		secrets: map[string]map[string]string{},
	}
}

func (p *Provider) GetParameter(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	if v, ok := p.params[name]; ok {
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	out, err := p.ssm.GetParameterWithContext(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	v := aws.StringValue(out.Parameter.Value)

	p.mu.Lock()
	p.params[name] = v
	p.mu.Unlock()
	return v, nil
}

// GetSecret fetches and decodes a JSON secret (e.g. database credentials).
func (p *Provider) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	p.mu.Lock()
	if v, ok := p.secrets[name]; ok {
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	out, err := p.sm.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(aws.StringValue(out.SecretString)), &decoded); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", name, err)
	}

	p.mu.Lock()
	p.secrets[name] = decoded
	p.mu.Unlock()
	return decoded, nil
}
