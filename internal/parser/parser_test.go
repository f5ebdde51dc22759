package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cryptoKingdom88/chainwatch/internal/domain"
)

func int64ptr(v int64) *int64 { return &v }

// TestParsePayload_BuyDetection implements S1 from the spec's scenario
// table: a transfer landing on the fee payer is a buy.
func TestParsePayload_BuyDetection(t *testing.T) {
	p := Payload{
		Signature: "s1",
		Timestamp: int64ptr(1_700_000_000),
		FeePayer:  "W1",
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: "X", ToUserAccount: "W1", Mint: "M", TokenAmount: 1000},
		},
	}

	events, err := ParsePayload(p, "M")
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	require.Equal(t, "W1", e.Wallet)
	require.Equal(t, domain.DirectionBuy, e.Direction)
	require.Equal(t, uint64(1000), e.RawAmount)
	require.Equal(t, int64(1_700_000_000), e.Timestamp)
}

func TestParsePayload_SellDetection(t *testing.T) {
	p := Payload{
		Signature: "s2",
		Timestamp: int64ptr(1_700_000_100),
		FeePayer:  "W1",
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: "W1", ToUserAccount: "Y", Mint: "M", TokenAmount: 500},
		},
	}

	events, err := ParsePayload(p, "M")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.DirectionSell, events[0].Direction)
	require.Equal(t, "W1", events[0].Wallet)
}

func TestParsePayload_NoMatchingMint(t *testing.T) {
	p := Payload{
		Signature: "s3",
		Timestamp: int64ptr(1_700_000_200),
		FeePayer:  "W1",
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: "X", ToUserAccount: "W1", Mint: "OTHER", TokenAmount: 1000},
		},
	}

	events, err := ParsePayload(p, "M")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestParsePayload_FeePayerNeitherParty(t *testing.T) {
	p := Payload{
		Signature: "s4",
		Timestamp: int64ptr(1_700_000_300),
		FeePayer:  "W3",
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: "X", ToUserAccount: "Y", Mint: "M", TokenAmount: 1000},
		},
	}

	events, err := ParsePayload(p, "M")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestParsePayload_MissingSignatureIsMalformed(t *testing.T) {
	p := Payload{
		Timestamp: int64ptr(1_700_000_400),
		FeePayer:  "W1",
	}

	_, err := ParsePayload(p, "M")
	require.Error(t, err)
}

func TestParsePayload_MissingTimestampIsMalformed(t *testing.T) {
	p := Payload{
		Signature: "s5",
		FeePayer:  "W1",
	}

	_, err := ParsePayload(p, "M")
	require.Error(t, err)
}

func TestParsePayload_DecimalsCarriedWhenPresent(t *testing.T) {
	decimals := 6
	p := Payload{
		Signature: "s6",
		Timestamp: int64ptr(1_700_000_500),
		FeePayer:  "W1",
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: "X", ToUserAccount: "W1", Mint: "M", TokenAmount: 1_000_000, Decimals: &decimals},
		},
	}

	events, err := ParsePayload(p, "M")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 6, events[0].Decimals)
	require.InDelta(t, 1.0, events[0].Amount(), 0.0001)
}

func TestParsePayload_DecimalsDefaultZeroWhenAbsent(t *testing.T) {
	p := Payload{
		Signature: "s7",
		Timestamp: int64ptr(1_700_000_600),
		FeePayer:  "W1",
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: "X", ToUserAccount: "W1", Mint: "M", TokenAmount: 42},
		},
	}

	events, err := ParsePayload(p, "M")
	require.NoError(t, err)
	require.Equal(t, 0, events[0].Decimals)
}

func TestParseRaw_InvalidJSONIsMalformed(t *testing.T) {
	_, err := ParseRaw([]byte(`not json`), "M")
	require.Error(t, err)
}
