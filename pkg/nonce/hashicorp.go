package nonce

import (
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/nonceutil"
)

// HashicorpService issues encrypted, self-expiring nonces. Redemption is
// single-use and handled by nonceutil.
type HashicorpService struct {
	nonceService nonceutil.NonceService
}

func NewHashicorpService() (*HashicorpService, error) {
	nonceService := nonceutil.NewNonceService()
	err := nonceService.Initialize()
	if err != nil {
		return nil, fmt.Errorf("could not initialize nonce service: %w", err)
	}
	return &HashicorpService{nonceService}, nil
}

func (s *HashicorpService) Issue() (string, error) {
	nonceStr, _, err := s.nonceService.Get()
	if err != nil {
		return "", err
	}
	return nonceStr, nil
}

func (s *HashicorpService) Consume(candidate string) bool {
	return s.nonceService.Redeem(candidate)
}

// Stats tidies expired nonces and reports the remaining outstanding count.
func (s *HashicorpService) Stats() (*Stats, error) {
	status := s.nonceService.Tidy()
	if status == nil {
		return &Stats{}, nil
	}
	return &Stats{Active: int(status.Outstanding)}, nil
}
