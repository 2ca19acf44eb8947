package nonce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"
)

const (
	valkeyKeyPrefix     = "nonce:"
	valkeyDefaultExpiry = 5 * time.Minute
	valkeyTimeout       = 2 * time.Second
)

// ValkeyService keeps outstanding nonces as expiring keys in valkey so that
// several verifier replicas can share them.
type ValkeyService struct {
	expiry       time.Duration
	valkeyClient valkey.Client
	generate     func() (string, error)
}

func NewValkeyService(valkeyClient valkey.Client, options Options) (*ValkeyService, error) {
	if valkeyClient == nil {
		return nil, errors.New("valkey client is required")
	}
	expiry := options.Expiry
	if expiry < 0 {
		return nil, fmt.Errorf("invalid nonce expiry: %s", expiry)
	}
	if expiry == 0 {
		expiry = valkeyDefaultExpiry
	}
	return &ValkeyService{
		expiry:       expiry,
		valkeyClient: valkeyClient,
		generate:     randomNonce,
	}, nil
}

func NewValkeyServiceFromAddress(address string, options Options) (*ValkeyService, error) {
	if address == "" {
		return nil, errors.New("valkey address is required")
	}
	valkeyClient, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{address},
	})
	if err != nil {
		return nil, fmt.Errorf("creating valkey client: %w", err)
	}
	service, err := NewValkeyService(valkeyClient, options)
	if err != nil {
		valkeyClient.Close()
		return nil, err
	}
	return service, nil
}

func (v *ValkeyService) Issue() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), valkeyTimeout)
	defer cancel()

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		nonce, err := v.generate()
		if err != nil {
			return "", err
		}

		// NX refuses to overwrite a value that is still outstanding
		cmd := v.valkeyClient.B().Set().Key(valkeyKeyPrefix + nonce).Value("").Nx().Ex(v.expiry).Build()
		err = v.valkeyClient.Do(ctx, cmd).Error()
		if valkey.IsValkeyNil(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("storing nonce in valkey: %w", err)
		}
		return nonce, nil
	}
	return "", ErrNoUniqueNonce
}

// Consume deletes the key; only the caller that actually removed it wins.
// Valkey errors are logged and treated as a failed redemption.
func (v *ValkeyService) Consume(candidate string) bool {
	if candidate == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), valkeyTimeout)
	defer cancel()

	cmd := v.valkeyClient.B().Del().Key(valkeyKeyPrefix + candidate).Build()
	deleted, err := v.valkeyClient.Do(ctx, cmd).AsInt64()
	if err != nil {
		slog.Error("deleting nonce from valkey", "error", err)
		return false
	}
	return deleted == 1
}

func (v *ValkeyService) Stats() (*Stats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), valkeyTimeout)
	defer cancel()

	active := 0
	var cursor uint64
	for {
		cmd := v.valkeyClient.B().Scan().Cursor(cursor).Match(valkeyKeyPrefix + "*").Count(100).Build()
		entry, err := v.valkeyClient.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("scanning nonces in valkey: %w", err)
		}
		active += len(entry.Elements)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	return &Stats{Active: active}, nil
}

func (v *ValkeyService) Close() error {
	v.valkeyClient.Close()
	return nil
}
