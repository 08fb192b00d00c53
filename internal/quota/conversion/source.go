package conversion

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/edupoints/internal/config"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
)

// Source hands out the converter for the current factor table and rebuilds
// it only when the configured overrides change.
type Source struct {
	holder *config.QuotaConfigHolder

	mu      sync.Mutex
	key     string
	current *Converter
}

func NewSource(holder *config.QuotaConfigHolder) (*Source, error) {
	s := &Source{holder: holder}
	if _, err := s.Current(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) Current() (*Converter, error) {
	factors := s.holder.Get().ConversionFactors
	// fmt prints maps in key order, so equal tables give equal keys.
	key := fmt.Sprint(factors)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && key == s.key {
		return s.current, nil
	}

	overrides := make(map[quotadomain.Unit]decimal.Decimal, len(factors))
	for unit, factor := range factors {
		overrides[quotadomain.Unit(strings.ToLower(strings.TrimSpace(unit)))] = decimal.NewFromFloat(factor)
	}
	converter, err := NewConverter(overrides)
	if err != nil {
		return nil, err
	}
	s.key = key
	s.current = converter
	return converter, nil
}
