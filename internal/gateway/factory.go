package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"voucher-service/config"
)

// Factory selects and caches gateway adapters by configuration name, one
// instance per provider per process.
type Factory struct {
	cfg *config.PaymentConfig

	mu    sync.Mutex
	cache map[string]Gateway
}

func NewFactory(cfg *config.PaymentConfig) *Factory {
	return &Factory{cfg: cfg, cache: make(map[string]Gateway)}
}

// Gateway returns the adapter for name, or the configured default when name
// is empty. Construction fails loudly when the adapter's credentials are
// missing.
func (f *Factory) Gateway(name string) (Gateway, error) {
	if name == "" {
		name = f.cfg.DefaultGateway
	}
	name = strings.ToLower(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	if g, ok := f.cache[name]; ok {
		return g, nil
	}

	g, err := f.build(name)
	if err != nil {
		return nil, err
	}
	if !g.Available() {
		return nil, fmt.Errorf("gateway %q: %w", name, ErrNotConfigured)
	}

	f.cache[name] = g
	return g, nil
}

func (f *Factory) build(name string) (Gateway, error) {
	switch name {
	case "stripe":
		return NewStripeGateway(f.cfg.Stripe), nil
	case "doku", "bsp":
		return NewDokuGateway(f.cfg.Doku), nil
	case "kina", "kinabank":
		return NewKinaGateway(f.cfg.Kina), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
}

// Available lists the gateway names whose credentials check out, for
// diagnostics.
func (f *Factory) Available() []string {
	var out []string
	for _, name := range []string{"stripe", "doku", "kina"} {
		if g, err := f.build(name); err == nil && g.Available() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ClearCache drops all cached instances, for test isolation.
func (f *Factory) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]Gateway)
}
