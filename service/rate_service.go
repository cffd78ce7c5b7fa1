package service

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateProvider supplies the USD rate used for the detection-time snapshot.
// Rate lookup itself is an external collaborator; the gateway only depends on
// this boundary.
type RateProvider interface {
	USDRate(ctx context.Context, chainSym string) (decimal.Decimal, error)
}

// StaticRateProvider serves rates from a fixed table. Deployments wire a real
// feed behind the same interface; a missing symbol yields a zero rate so the
// USD snapshot degrades instead of blocking detection.
type StaticRateProvider struct {
	rates map[string]decimal.Decimal
}

func NewStaticRateProvider(rates map[string]decimal.Decimal) *StaticRateProvider {
	if rates == nil {
		rates = map[string]decimal.Decimal{}
	}
	return &StaticRateProvider{rates: rates}
}

func (p *StaticRateProvider) USDRate(ctx context.Context, chainSym string) (decimal.Decimal, error) {
	return p.rates[chainSym], nil
}
