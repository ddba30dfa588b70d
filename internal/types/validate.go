package types

import (
	"errors"
	"strings"
)

const maxSymbolLength = 10

var (
	ErrUsernameRequired = errors.New("username is required")
	ErrSymbolRequired   = errors.New("symbol is required")
	ErrInvalidUsername  = errors.New("username contains invalid characters")
	ErrInvalidSymbol    = errors.New("symbol is invalid")
)

// NormalizeUsername trims the username and rejects characters that would
// break the comma separated quote server protocol
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrUsernameRequired
	}
	if strings.ContainsAny(username, ",\r\n") {
		return "", ErrInvalidUsername
	}
	return username, nil
}

// NormalizeSymbol upper-cases and trims a stock symbol
func NormalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", ErrSymbolRequired
	}
	if len(symbol) > maxSymbolLength || strings.ContainsAny(symbol, ", \r\n") {
		return "", ErrInvalidSymbol
	}
	return symbol, nil
}
