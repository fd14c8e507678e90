package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sudo-init-do/taskmarket/internal/bidding"
	"github.com/sudo-init-do/taskmarket/internal/escrow"
	"github.com/sudo-init-do/taskmarket/internal/matching"
)

// Params are the protocol constants. Durations are in seconds.
type Params struct {
	Escrow  EscrowParams  `yaml:"escrow"`
	Bidding BiddingParams `yaml:"bidding"`
	Market  MarketParams  `yaml:"market"`
}

type EscrowParams struct {
	MinAmount       int64 `yaml:"min_amount"`
	MinDurationSecs int64 `yaml:"min_duration_secs"`
	MaxDurationSecs int64 `yaml:"max_duration_secs"`
}

type BiddingParams struct {
	MinBudget       int64 `yaml:"min_budget"`
	MinDurationSecs int64 `yaml:"min_duration_secs"`
	MaxDurationSecs int64 `yaml:"max_duration_secs"`
}

type MarketParams struct {
	MinOrder          int64 `yaml:"min_order"`
	MaxOrder          int64 `yaml:"max_order"`
	MinDurationSecs   int64 `yaml:"min_duration_secs"`
	MaxDurationSecs   int64 `yaml:"max_duration_secs"`
	FeeRateBps        int64 `yaml:"fee_rate_bps"`
	MatchIntervalSecs int64 `yaml:"match_interval_secs"`
	TimeBonusStepSecs int64 `yaml:"time_bonus_step_secs"`
	MaxTimeBonus      int64 `yaml:"max_time_bonus"`
	MaxBatchMatches   int   `yaml:"max_batch_matches"`
	MaxSweep          int   `yaml:"max_sweep"`
}

func DefaultParams() Params {
	e := escrow.DefaultLimits()
	b := bidding.DefaultLimits()
	m := matching.DefaultParams()
	return Params{
		Escrow: EscrowParams{
			MinAmount:       e.MinAmount,
			MinDurationSecs: secs(e.MinDuration),
			MaxDurationSecs: secs(e.MaxDuration),
		},
		Bidding: BiddingParams{
			MinBudget:       b.MinBudget,
			MinDurationSecs: secs(b.MinDuration),
			MaxDurationSecs: secs(b.MaxDuration),
		},
		Market: MarketParams{
			MinOrder:          m.MinOrder,
			MaxOrder:          m.MaxOrder,
			MinDurationSecs:   secs(m.MinDuration),
			MaxDurationSecs:   secs(m.MaxDuration),
			FeeRateBps:        m.FeeRateBps,
			MatchIntervalSecs: secs(m.MatchInterval),
			TimeBonusStepSecs: secs(m.TimeBonusStep),
			MaxTimeBonus:      m.MaxTimeBonus,
			MaxBatchMatches:   m.MaxBatchMatches,
			MaxSweep:          m.MaxSweep,
		},
	}
}

// LoadParams overlays the YAML file at path on the defaults. Keys absent
// from the file keep their default value.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("params.yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p Params) Validate() error {
	switch {
	case p.Escrow.MinAmount <= 0 || p.Bidding.MinBudget <= 0:
		return fmt.Errorf("params: minimum amounts must be positive")
	case p.Escrow.MinDurationSecs <= 0 || p.Escrow.MaxDurationSecs < p.Escrow.MinDurationSecs:
		return fmt.Errorf("params: bad escrow duration range")
	case p.Bidding.MinDurationSecs <= 0 || p.Bidding.MaxDurationSecs < p.Bidding.MinDurationSecs:
		return fmt.Errorf("params: bad bidding duration range")
	case p.Market.MinOrder <= 0 || p.Market.MaxOrder < p.Market.MinOrder:
		return fmt.Errorf("params: bad market order range")
	case p.Market.MinDurationSecs <= 0 || p.Market.MaxDurationSecs < p.Market.MinDurationSecs:
		return fmt.Errorf("params: bad market duration range")
	case p.Market.FeeRateBps < 0 || p.Market.FeeRateBps > 10000:
		return fmt.Errorf("params: fee_rate_bps must be within 0..10000")
	case p.Market.MatchIntervalSecs < 0 || p.Market.TimeBonusStepSecs <= 0 || p.Market.MaxTimeBonus < 0:
		return fmt.Errorf("params: bad market priority settings")
	case p.Market.MaxBatchMatches <= 0 || p.Market.MaxSweep <= 0:
		return fmt.Errorf("params: batch and sweep limits must be positive")
	}
	return nil
}

func (p Params) EscrowLimits() escrow.Limits {
	return escrow.Limits{
		MinAmount:   p.Escrow.MinAmount,
		MinDuration: dur(p.Escrow.MinDurationSecs),
		MaxDuration: dur(p.Escrow.MaxDurationSecs),
	}
}

func (p Params) BiddingLimits() bidding.Limits {
	return bidding.Limits{
		MinBudget:   p.Bidding.MinBudget,
		MinDuration: dur(p.Bidding.MinDurationSecs),
		MaxDuration: dur(p.Bidding.MaxDurationSecs),
	}
}

func (p Params) MarketParams() matching.Params {
	m := p.Market
	return matching.Params{
		MinOrder:        m.MinOrder,
		MaxOrder:        m.MaxOrder,
		MinDuration:     dur(m.MinDurationSecs),
		MaxDuration:     dur(m.MaxDurationSecs),
		FeeRateBps:      m.FeeRateBps,
		MatchInterval:   dur(m.MatchIntervalSecs),
		TimeBonusStep:   dur(m.TimeBonusStepSecs),
		MaxTimeBonus:    m.MaxTimeBonus,
		MaxBatchMatches: m.MaxBatchMatches,
		MaxSweep:        m.MaxSweep,
	}
}

func secs(d time.Duration) int64 { return int64(d / time.Second) }
func dur(s int64) time.Duration  { return time.Duration(s) * time.Second }
