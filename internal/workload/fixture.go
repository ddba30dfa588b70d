package workload

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Fixture describes accounts to seed. Amounts are strings so they keep
// their exact decimal value.
type Fixture struct {
	Users []FixtureUser `yaml:"users"`
}

type FixtureUser struct {
	Name         string           `yaml:"name"`
	Funds        string           `yaml:"funds"`
	Buys         []FixtureTrade   `yaml:"buys,omitempty"`
	Sells        []FixtureTrade   `yaml:"sells,omitempty"`
	BuyTriggers  []FixtureTrigger `yaml:"buy_triggers,omitempty"`
	SellTriggers []FixtureTrigger `yaml:"sell_triggers,omitempty"`
}

// FixtureTrade is a buy or sell committed right away
type FixtureTrade struct {
	Symbol string `yaml:"symbol"`
	Amount string `yaml:"amount"`
}

// FixtureTrigger sets a trigger. Amount is cash for buy triggers and shares
// for sell triggers.
type FixtureTrigger struct {
	Symbol string `yaml:"symbol"`
	Amount string `yaml:"amount"`
	Price  string `yaml:"price"`
}

// LoadFixture decodes a YAML fixture
func LoadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &f, nil
}

// Commands expands the fixture into workload commands, numbered from 1.
// Each user gets ADD first, then committed trades, then triggers.
func (f *Fixture) Commands() ([]Command, error) {
	var commands []Command
	add := func(name Name, user, symbol, amount string) error {
		cmd := Command{Num: len(commands) + 1, Name: name, User: user, Symbol: symbol}
		if amount != "" {
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("%s for %s: %w %q", name, user, ErrBadAmount, amount)
			}
			cmd.Amount = d
		}
		commands = append(commands, cmd)
		return nil
	}

	for _, u := range f.Users {
		if u.Name == "" {
			return nil, fmt.Errorf("fixture user: %w name", ErrMissingArgument)
		}
		funds := u.Funds
		if funds == "" {
			funds = "0"
		}
		if err := add(Add, u.Name, "", funds); err != nil {
			return nil, err
		}

		for _, t := range u.Buys {
			if err := add(Buy, u.Name, t.Symbol, t.Amount); err != nil {
				return nil, err
			}
			_ = add(CommitBuy, u.Name, "", "")
		}
		for _, t := range u.Sells {
			if err := add(Sell, u.Name, t.Symbol, t.Amount); err != nil {
				return nil, err
			}
			_ = add(CommitSell, u.Name, "", "")
		}
		for _, t := range u.BuyTriggers {
			if err := add(SetBuyAmount, u.Name, t.Symbol, t.Amount); err != nil {
				return nil, err
			}
			if err := add(SetBuyTrigger, u.Name, t.Symbol, t.Price); err != nil {
				return nil, err
			}
		}
		for _, t := range u.SellTriggers {
			if err := add(SetSellAmount, u.Name, t.Symbol, t.Amount); err != nil {
				return nil, err
			}
			if err := add(SetSellTrigger, u.Name, t.Symbol, t.Price); err != nil {
				return nil, err
			}
		}
	}
	return commands, nil
}
