// Package workload parses and replays legacy day trading workload files
// against the HTTP API.
package workload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Name is a legacy workload command name
type Name string

const (
	Add            Name = "ADD"
	Quote          Name = "QUOTE"
	Buy            Name = "BUY"
	CommitBuy      Name = "COMMIT_BUY"
	CancelBuy      Name = "CANCEL_BUY"
	Sell           Name = "SELL"
	CommitSell     Name = "COMMIT_SELL"
	CancelSell     Name = "CANCEL_SELL"
	SetBuyAmount   Name = "SET_BUY_AMOUNT"
	SetBuyTrigger  Name = "SET_BUY_TRIGGER"
	CancelSetBuy   Name = "CANCEL_SET_BUY"
	SetSellAmount  Name = "SET_SELL_AMOUNT"
	SetSellTrigger Name = "SET_SELL_TRIGGER"
	CancelSetSell  Name = "CANCEL_SET_SELL"
	DisplaySummary Name = "DISPLAY_SUMMARY"
	DumpLog        Name = "DUMPLOG"
)

// argument layouts
type layout int

const (
	userOnly layout = iota
	userAmount
	userSymbol
	userSymbolAmount
	dumpLog
)

var layouts = map[Name]layout{
	Add:            userAmount,
	Quote:          userSymbol,
	Buy:            userSymbolAmount,
	CommitBuy:      userOnly,
	CancelBuy:      userOnly,
	Sell:           userSymbolAmount,
	CommitSell:     userOnly,
	CancelSell:     userOnly,
	SetBuyAmount:   userSymbolAmount,
	SetBuyTrigger:  userSymbolAmount,
	CancelSetBuy:   userSymbol,
	SetSellAmount:  userSymbolAmount,
	SetSellTrigger: userSymbolAmount,
	CancelSetSell:  userSymbol,
	DisplaySummary: userOnly,
	DumpLog:        dumpLog,
}

var (
	ErrMissingSpace     = errors.New("missing space after transaction number")
	ErrBadNumber        = errors.New("invalid transaction number")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrMissingArgument  = errors.New("missing argument")
	ErrTooManyArguments = errors.New("too many arguments")
	ErrBadAmount        = errors.New("invalid amount")
)

// Command is one parsed workload line. Amount carries the dollar amount,
// share count or trigger price depending on Name.
type Command struct {
	Num    int
	Name   Name
	User   string
	Symbol string
	Amount decimal.Decimal
	File   string
}

// ParseLine parses a line such as "[3] BUY,alice,ABC,100.00"
func ParseLine(line string) (Command, error) {
	line = strings.TrimSpace(line)
	numPart, rest, ok := strings.Cut(line, " ")
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrMissingSpace, line)
	}

	num, err := strconv.Atoi(strings.Trim(numPart, "[]"))
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q", ErrBadNumber, numPart)
	}

	fields := strings.Split(strings.TrimSpace(rest), ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	cmd := Command{Num: num, Name: Name(strings.ToUpper(fields[0]))}
	kind, ok := layouts[cmd.Name]
	if !ok {
		return Command{}, fmt.Errorf("%w %q in %q", ErrUnknownCommand, fields[0], line)
	}
	args := fields[1:]

	if kind == dumpLog {
		switch len(args) {
		case 1:
			cmd.File = args[0]
		case 2:
			cmd.User, cmd.File = args[0], args[1]
		case 0:
			return Command{}, fmt.Errorf("%s: %w filename", cmd.Name, ErrMissingArgument)
		default:
			return Command{}, fmt.Errorf("%s: %w", cmd.Name, ErrTooManyArguments)
		}
		return cmd, nil
	}

	want := map[layout][]string{
		userOnly:         {"user_id"},
		userAmount:       {"user_id", "amount"},
		userSymbol:       {"user_id", "stock_symbol"},
		userSymbolAmount: {"user_id", "stock_symbol", "amount"},
	}[kind]
	if len(args) < len(want) {
		return Command{}, fmt.Errorf("%s: %w %s", cmd.Name, ErrMissingArgument, want[len(args)])
	}
	if len(args) > len(want) {
		return Command{}, fmt.Errorf("%s: %w, expected %d", cmd.Name, ErrTooManyArguments, len(want))
	}

	for i, name := range want {
		switch name {
		case "user_id":
			cmd.User = args[i]
		case "stock_symbol":
			cmd.Symbol = args[i]
		case "amount":
			amount, err := decimal.NewFromString(args[i])
			if err != nil {
				return Command{}, fmt.Errorf("%s: %w %q", cmd.Name, ErrBadAmount, args[i])
			}
			cmd.Amount = amount
		}
	}
	return cmd, nil
}

// Parse reads one command per line, skipping blank lines. The first bad
// line stops parsing.
func Parse(r io.Reader) ([]Command, error) {
	var commands []Command
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		cmd, err := ParseLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		commands = append(commands, cmd)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return commands, nil
}
