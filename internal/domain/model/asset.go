package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

type AssetID = string

// AssetKind tells crypto tokens from fiat currencies.
type AssetKind int

const (
	Crypto AssetKind = iota
	Fiat
)

func (k AssetKind) String() string {
	switch k {
	case Crypto:
		return "Crypto"
	case Fiat:
		return "Fiat"
	default:
		return "unknown"
	}
}

func ParseAssetKind(s string) (AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crypto":
		return Crypto, nil
	case "fiat":
		return Fiat, nil
	default:
		return 0, fmt.Errorf("unknown asset kind %q", s)
	}
}

func (k AssetKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *AssetKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAssetKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Asset is either a crypto token or a fiat currency. ID is the lowercase
// provider-stable identifier, Symbol the display ticker.
type Asset struct {
	Kind   AssetKind `json:"type"`
	ID     AssetID   `json:"id"`
	Symbol string    `json:"symbol"`
}

func NewCrypto(id AssetID) Asset {
	return Asset{Kind: Crypto, ID: id, Symbol: strings.ToUpper(id)}
}

func NewFiat(id AssetID, symbol string) Asset {
	return Asset{Kind: Fiat, ID: id, Symbol: symbol}
}

func (a Asset) IsFiat() bool {
	return a.Kind == Fiat
}
