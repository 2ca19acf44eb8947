package nonce_test

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gematik/zero-pop/pkg/nonce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValkeyService(t *testing.T, expiry time.Duration) *nonce.ValkeyService {
	address := os.Getenv("VALKEY_ADDR")
	if address == "" {
		t.Skip("VALKEY_ADDR not set")
	}
	service, err := nonce.NewValkeyServiceFromAddress(address, nonce.Options{Expiry: expiry})
	require.NoError(t, err)
	t.Cleanup(func() { service.Close() })
	return service
}

func TestValkeyService(t *testing.T) {
	service := newValkeyService(t, 2*time.Second)

	nonceStr, err := service.Issue()
	require.NoError(t, err)

	assert.True(t, service.Consume(nonceStr))
	assert.False(t, service.Consume(nonceStr), "already redeemed")

	expiring, err := service.Issue()
	require.NoError(t, err)

	time.Sleep(3 * time.Second)
	assert.False(t, service.Consume(expiring), "expired")

	_, err = service.Stats()
	require.NoError(t, err)
}

func TestValkeyServiceConcurrentConsume(t *testing.T) {
	service := newValkeyService(t, time.Minute)

	nonceStr, err := service.Issue()
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if service.Consume(nonceStr) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
