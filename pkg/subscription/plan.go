package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Flat reference prices used for the proration estimate. This is a local
// approximation, not a value reconciled with Stripe's proration invoice.
const (
	referenceMonthlyPrice = 9.99
	referenceAnnualPrice  = 99.99
)

// PlanResolverConfig maps configured Stripe price IDs to plans. A catalog
// file can extend the mapping with additional prices.
type PlanResolverConfig struct {
	MonthlyPriceID string `env:"STRIPE_PRICE_MONTHLY"`
	AnnualPriceID  string `env:"STRIPE_PRICE_ANNUAL"`
	CatalogFile    string `env:"PLAN_CATALOG_FILE"`
}

// PlanResolver maps Stripe price identifiers to internal plan names and back.
type PlanResolver struct {
	byPrice map[string]Plan
	byPlan  map[Plan]string
	log     *slog.Logger
}

// catalogEntry is one row of the optional YAML plan catalog.
type catalogEntry struct {
	PriceID string `yaml:"price_id"`
	Plan    string `yaml:"plan"`
}

// NewPlanResolver builds a resolver from environment configuration and,
// when configured, a YAML catalog file.
func NewPlanResolver(cfg PlanResolverConfig, log *slog.Logger) (*PlanResolver, error) {
	if log == nil {
		log = slog.Default()
	}

	r := &PlanResolver{
		byPrice: make(map[string]Plan),
		byPlan:  make(map[Plan]string),
		log:     log,
	}

	if cfg.MonthlyPriceID != "" {
		r.register(cfg.MonthlyPriceID, PlanMonthly)
	}
	if cfg.AnnualPriceID != "" {
		r.register(cfg.AnnualPriceID, PlanAnnual)
	}

	if cfg.CatalogFile != "" {
		if err := r.loadCatalog(cfg.CatalogFile); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *PlanResolver) register(priceID string, plan Plan) {
	r.byPrice[priceID] = plan
	if _, ok := r.byPlan[plan]; !ok {
		r.byPlan[plan] = priceID
	}
}

func (r *PlanResolver) loadCatalog(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read plan catalog %s: %w", path, err)
	}

	var entries []catalogEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("failed to parse plan catalog %s: %w", path, err)
	}

	for _, e := range entries {
		if e.PriceID == "" || e.Plan == "" {
			return fmt.Errorf("plan catalog %s: entries require price_id and plan", path)
		}
		plan := Plan(e.Plan)
		switch plan {
		case PlanFree, PlanMonthly, PlanAnnual, PlanPremium:
		default:
			return errors.Join(ErrUnknownPlan, fmt.Errorf("plan catalog %s: %q", path, e.Plan))
		}
		r.register(e.PriceID, plan)
	}
	return nil
}

// PlanForPrice maps a Stripe price ID to a plan. Unknown prices are a
// configuration gap, not a failure: they resolve to PlanPremium and are
// logged so operators can patch the catalog.
func (r *PlanResolver) PlanForPrice(priceID string) Plan {
	if plan, ok := r.byPrice[priceID]; ok {
		return plan
	}
	r.log.Warn("unmapped stripe price, defaulting plan",
		slog.String("price_id", priceID),
		slog.String("default_plan", string(PlanPremium)))
	return PlanPremium
}

// PriceForPlan returns the configured Stripe price ID for a plan.
func (r *PlanResolver) PriceForPlan(plan Plan) (string, error) {
	priceID, ok := r.byPlan[plan]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoPriceForPlan, plan)
	}
	return priceID, nil
}

// ValidPlan reports whether the plan name is one we bill for.
func ValidPlan(plan Plan) bool {
	switch plan {
	case PlanFree, PlanMonthly, PlanAnnual, PlanPremium:
		return true
	}
	return false
}

// annualizedPrice returns the yearly cost of a plan at the flat reference
// prices. Plans without a reference price cost 0 for estimation purposes.
func annualizedPrice(plan Plan) float64 {
	switch plan {
	case PlanMonthly, PlanPremium:
		return referenceMonthlyPrice * 12
	case PlanAnnual:
		return referenceAnnualPrice
	}
	return 0
}

// ProrationEstimate approximates the credit (negative) or charge (positive)
// of switching plans mid-period, comparing annualized reference prices.
// Switching monthly to annual yields -(9.99*12 - 99.99) = -19.89.
func ProrationEstimate(oldPlan, newPlan Plan) float64 {
	estimate := annualizedPrice(newPlan) - annualizedPrice(oldPlan)
	// Round to cents to avoid float drift in API responses.
	return float64(int64(estimate*100+copysignHalf(estimate))) / 100
}

func copysignHalf(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}
