package processor

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"paylane/config"
)

// ErrUnknownProcessor is returned when no processor is registered under the
// requested name.
var ErrUnknownProcessor = errors.New("unknown processor")

// Registry resolves processors by region at entity creation and by stored
// name for every later operation. Region is consulted exactly once per
// entity; afterwards the entity's stored processor name is authoritative.
type Registry struct {
	byName          map[string]Processor
	regionalRegions map[string]bool
	defaultName     string
}

// NewRegistry builds the registry from application config: Stripe for the
// global card network, the regional gateway for its configured markets.
func NewRegistry() *Registry {
	cfg := config.AppConfig

	regional := NewRegionalProcessor(
		cfg.RegionalBaseURL,
		cfg.RegionalSecretKey,
		cfg.RegionalWebhookIPs,
		&http.Client{Timeout: time.Duration(cfg.RegionalTimeoutSecs) * time.Second},
	)
	stripeProc := NewStripeProcessor(cfg.StripeWebhookSecret)

	regions := make(map[string]bool, len(cfg.RegionalRegions))
	for _, r := range cfg.RegionalRegions {
		regions[r] = true
	}

	reg := &Registry{
		byName:          map[string]Processor{},
		regionalRegions: regions,
		defaultName:     stripeProc.Name(),
	}
	reg.byName[stripeProc.Name()] = stripeProc
	reg.byName[regional.Name()] = regional
	return reg
}

// NewRegistryWith builds a registry from explicit processors, with the
// first one as the default. Regional region codes route to "regional".
func NewRegistryWith(regionalRegions []string, procs ...Processor) *Registry {
	regions := make(map[string]bool, len(regionalRegions))
	for _, r := range regionalRegions {
		regions[r] = true
	}
	reg := &Registry{byName: map[string]Processor{}, regionalRegions: regions}
	for i, p := range procs {
		if i == 0 {
			reg.defaultName = p.Name()
		}
		reg.byName[p.Name()] = p
	}
	return reg
}

// ForRegion selects the processor for a region code.
func (r *Registry) ForRegion(region string) Processor {
	if r.regionalRegions[region] {
		if p, ok := r.byName["regional"]; ok {
			return p
		}
	}
	return r.byName[r.defaultName]
}

// ByName returns the processor stored on an entity.
func (r *Registry) ByName(name string) (Processor, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, name)
	}
	return p, nil
}
