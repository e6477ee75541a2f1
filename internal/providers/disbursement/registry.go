package disbursement

import (
	"fmt"
	"strings"

	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement/rapyd"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement/simulation"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement/thunes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Select decides which variant serves name. Missing credentials, dry-run and
// unknown names all degrade to the simulation provider.
func Select(name string, credentialsPresent, dryRun bool) domain.Kind {
	if dryRun {
		return domain.KindSimulation
	}
	switch domain.Kind(strings.ToUpper(strings.TrimSpace(name))) {
	case domain.KindThunes:
		if credentialsPresent {
			return domain.KindThunes
		}
	case domain.KindRapyd:
		if credentialsPresent {
			return domain.KindRapyd
		}
	}
	return domain.KindSimulation
}

// Registry holds every provider variant this process can reach, keyed by the
// name stored on payout instructions. One of them is active for new payouts.
type Registry struct {
	active      domain.Provider
	providers   map[string]domain.Provider
	simulations []*simulation.Provider
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

var providerNames = []string{string(domain.KindThunes), string(domain.KindRapyd)}

func NewRegistry(p Params) *Registry {
	log := p.Log.Named("provider.registry")
	cfg := p.Config.Provider

	r := &Registry{providers: make(map[string]domain.Provider, len(providerNames))}
	for _, name := range providerNames {
		var creds config.Credentials
		switch domain.Kind(name) {
		case domain.KindThunes:
			creds = cfg.Thunes
		case domain.KindRapyd:
			creds = cfg.Rapyd
		}

		providerCfg := domain.Config{
			Name:           name,
			BaseURL:        creds.BaseURL,
			APIKey:         creds.APIKey,
			APISecret:      creds.APISecret,
			WalletCurrency: cfg.WalletCurrency,
		}
		switch Select(name, creds.Present(), p.Config.DryRun) {
		case domain.KindThunes:
			r.providers[name] = thunes.New(providerCfg, p.Log)
		case domain.KindRapyd:
			r.providers[name] = rapyd.New(providerCfg, p.Log)
		default:
			// Auto-settle is a simulation convenience and stays off outside dry-run.
			sim := simulation.New(name, simulation.Options{
				AutoSettle: cfg.AutoSettle && p.Config.DryRun,
				Delay:      cfg.AutoSettleDelay,
			}, p.Log)
			r.providers[name] = sim
			r.simulations = append(r.simulations, sim)
		}
	}

	name := strings.ToUpper(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = string(domain.KindThunes)
	}
	active, ok := r.providers[name]
	if !ok {
		log.Warn("unknown provider, using simulation", zap.String("provider", name))
		sim := simulation.New(name, simulation.Options{
			AutoSettle: cfg.AutoSettle && p.Config.DryRun,
			Delay:      cfg.AutoSettleDelay,
		}, p.Log)
		r.providers[name] = sim
		r.simulations = append(r.simulations, sim)
		active = sim
	} else if active.Kind() == domain.KindSimulation && !p.Config.DryRun {
		log.Warn("provider credentials missing, falling back to simulation", zap.String("provider", name))
	}
	r.active = active

	log.Info("disbursement provider selected",
		zap.String("provider", r.active.Name()),
		zap.String("kind", string(r.active.Kind())),
	)
	return r
}

// NewStaticRegistry wraps already constructed providers. The first one is
// active.
func NewStaticRegistry(providers ...domain.Provider) *Registry {
	r := &Registry{providers: make(map[string]domain.Provider, len(providers))}
	for _, p := range providers {
		r.providers[strings.ToUpper(p.Name())] = p
		if sim, ok := p.(*simulation.Provider); ok {
			r.simulations = append(r.simulations, sim)
		}
	}
	if len(providers) > 0 {
		r.active = providers[0]
	}
	return r
}

// Active is the provider new payout instructions are recorded against.
func (r *Registry) Active() domain.Provider {
	return r.active
}

// Simulations returns every simulated stand-in held by the registry.
func (r *Registry) Simulations() []*simulation.Provider {
	return r.simulations
}

// Lookup resolves a provider by the name stored on instructions and used in
// webhook routes.
func (r *Registry) Lookup(name string) (domain.Provider, error) {
	if p, ok := r.providers[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, name)
}
