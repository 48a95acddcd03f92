package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rzzdr/option-valuation/config"
	"github.com/rzzdr/option-valuation/internal/adapters"
	"github.com/rzzdr/option-valuation/internal/valuation"
	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

func main() {
	var (
		req        models.ValuationRequest
		configFile string
		logLevel   string
	)
	flag.StringVar(&configFile, "config", config.GetConfigPath(), "Path to configuration file")
	flag.StringVar(&req.Ticker, "ticker", "", "Underlying ticker symbol")
	flag.Float64Var(&req.Strike, "strike", 0, "Strike price")
	flag.StringVar(&req.Expiry, "expiry", "", "Expiry date (YYYY-MM-DD)")
	flag.Func("dividend", "Continuous dividend yield, 0.01 = 1% (default pricing.dividend_yield)", func(s string) error {
		q, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		req.DividendYield = &q
		return nil
	})
	flag.StringVar(&req.Model, "model", string(models.ModelAnalytic), "Pricing model: analytic, monte_carlo, american or both")
	flag.IntVar(&req.Trials, "trials", 0, "Monte-Carlo trials (0 uses the configured default)")
	flag.Func("seed", "Monte-Carlo seed for reproducible runs", func(s string) error {
		seed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		req.Seed = &seed
		return nil
	})
	flag.IntVar(&req.LookbackDays, "lookback", 0, "Volatility lookback in trading days (0 uses the configured default)")
	flag.StringVar(&req.HistoryStart, "history-start", "", "First date of price history to fetch (YYYY-MM-DD)")
	flag.BoolVar(&req.CheckParity, "parity", false, "Check put-call parity")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level written to stderr")
	flag.Parse()

	logger.SetOutput(os.Stderr, logLevel)

	if req.Ticker == "" || req.Expiry == "" {
		fmt.Fprintln(os.Stderr, "pricer: -ticker and -expiry are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	valuations, err := run(ctx, configFile, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pricer: %s: %v\n", apperrors.TypeOf(err), err)
		os.Exit(1)
	}
	if err := writeReport(os.Stdout, valuations); err != nil {
		fmt.Fprintf(os.Stderr, "pricer: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string, req models.ValuationRequest) ([]models.Valuation, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	provider, err := adapters.NewProvider(cfg.MarketData, nil)
	if err != nil {
		return nil, err
	}
	settings, err := adapters.ServiceSettings(cfg.Pricing)
	if err != nil {
		return nil, err
	}
	service, err := valuation.NewService(provider, settings)
	if err != nil {
		return nil, err
	}
	return service.ValueModels(ctx, req)
}
