package pricing

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// MonteCarloConfig configures the simulation engine
type MonteCarloConfig struct {
	Trials       int          // Number of terminal prices sampled
	Workers      int          // Goroutines sharing the trials
	BlockSize    int          // Trials between cancellation checks
	Seed         *uint64      // Master seed; nil draws a fresh one per call
	DividendMode DividendMode // Whether q enters the simulated drift
}

// DefaultMonteCarloConfig returns the default simulation settings
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{
		Trials:       100000,
		Workers:      runtime.NumCPU(),
		BlockSize:    4096,
		DividendMode: DividendReference,
	}
}

// Validate checks the simulation settings
func (c MonteCarloConfig) Validate() error {
	if c.Trials <= 0 {
		return apperrors.Configuration(fmt.Sprintf("trials must be positive, got %d", c.Trials))
	}
	if c.Workers <= 0 {
		return apperrors.Configuration(fmt.Sprintf("workers must be positive, got %d", c.Workers))
	}
	if c.BlockSize <= 0 {
		return apperrors.Configuration(fmt.Sprintf("block size must be positive, got %d", c.BlockSize))
	}
	return nil
}

// MonteCarloEngine prices European payoffs by sampling terminal prices under
// geometric Brownian motion
type MonteCarloEngine struct {
	config MonteCarloConfig
	label  models.PricingModel
	log    *logger.Logger
}

// NewMonteCarloEngine creates a simulation engine
func NewMonteCarloEngine(config MonteCarloConfig) (*MonteCarloEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &MonteCarloEngine{
		config: config,
		label:  models.ModelMonteCarlo,
		log:    logger.GetLogger("pricing.montecarlo"),
	}, nil
}

// Name returns the engine name
func (e *MonteCarloEngine) Name() string {
	return string(e.label)
}

// Config returns the engine settings
func (e *MonteCarloEngine) Config() MonteCarloConfig {
	return e.config
}

// partial holds one worker's running sums
type partial struct {
	call, callSq float64
	put, putSq   float64
}

// Price estimates the call and put prices. With a fixed seed and worker count
// the result is bit-for-bit reproducible.
func (e *MonteCarloEngine) Price(ctx context.Context, contract models.OptionContract, params models.MarketParameters) (models.PriceQuote, error) {
	in := newInputs(contract, params)
	if err := in.validate(); err != nil {
		e.log.Errorf("Invalid inputs for simulation: S=%f, K=%f, T=%f, sigma=%f", in.S, in.K, in.T, in.sigma)
		return models.PriceQuote{}, err
	}

	seed := rand.Uint64()
	if e.config.Seed != nil {
		seed = *e.config.Seed
	}

	drift := in.r - 0.5*in.sigma*in.sigma
	if e.config.DividendMode == DividendAdjusted {
		drift -= in.q
	}
	drift *= in.T
	diffusion := in.sigma * math.Sqrt(in.T)

	trials := e.config.Trials
	workers := e.config.Workers
	base, extra := trials/workers, trials%workers
	partials := make([]partial, workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		n := base
		if i < extra {
			n++
		}
		if n == 0 {
			continue
		}
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seed, uint64(i)))
			return e.simulate(gctx, rng, n, in, drift, diffusion, &partials[i])
		})
	}
	if err := g.Wait(); err != nil {
		e.log.Warnf("Simulation for %s aborted: %v", contract.Ticker, err)
		return models.PriceQuote{}, apperrors.WithType(err, apperrors.ErrorTypeTimeout)
	}

	var total partial
	for _, p := range partials {
		total.call += p.call
		total.callSq += p.callSq
		total.put += p.put
		total.putSq += p.putSq
	}

	discount := math.Exp(-in.r * in.T)
	m := float64(trials)
	call := discount * total.call / m
	put := discount * total.put / m
	quote := models.PriceQuote{
		Model:      e.label,
		Call:       call,
		Put:        put,
		Trials:     trials,
		CallStdErr: discount * stdErr(total.call, total.callSq, trials),
		PutStdErr:  discount * stdErr(total.put, total.putSq, trials),
	}
	if err := checkFinite(quote.Call, quote.Put); err != nil {
		return models.PriceQuote{}, err
	}
	if quote.Call < 0 {
		quote.Call, quote.Clamped = 0, true
	}
	if quote.Put < 0 {
		quote.Put, quote.Clamped = 0, true
	}

	e.log.Debugf("Simulated %d trials for %s (seed=%d, workers=%d): call=%f±%f put=%f±%f",
		trials, contract.Ticker, seed, workers, quote.Call, quote.CallStdErr, quote.Put, quote.PutStdErr)
	return quote, nil
}

func (e *MonteCarloEngine) simulate(ctx context.Context, rng *rand.Rand, n int, in inputs, drift, diffusion float64, out *partial) error {
	var acc partial
	for done := 0; done < n; {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(done+e.config.BlockSize, n)
		for ; done < end; done++ {
			st := in.S * math.Exp(drift+diffusion*normal(rng))
			c := math.Max(st-in.K, 0)
			p := math.Max(in.K-st, 0)
			acc.call += c
			acc.callSq += c * c
			acc.put += p
			acc.putSq += p * p
		}
	}
	*out = acc
	return nil
}

// normal draws a standard normal variate with the Box-Muller transform.
// Float64 is in [0, 1) so 1-u1 is never zero.
func normal(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(1-u1)) * math.Cos(2*math.Pi*u2)
}

// stdErr is the standard error of the mean from a sum and a sum of squares
func stdErr(sum, sumSq float64, n int) float64 {
	if n < 2 {
		return 0
	}
	m := float64(n)
	mean := sum / m
	variance := (sumSq - m*mean*mean) / (m - 1)
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance / m)
}
