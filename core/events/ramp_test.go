package events

import (
	"encoding/base64"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

func TestRampDepositLogLineRoundTrip(t *testing.T) {
	var asset, depositor [32]byte
	asset[0] = 0xAA
	depositor[31] = 0x01
	dep := RampDeposit{
		Asset:     asset,
		AssetName: " usdc ",
		Amount:    42_000,
		Depositor: depositor,
		Region:    4,
		Medium:    1,
		Data:      []byte("invoice-7"),
	}
	dep.Ledger[0] = 0x5E
	line, err := dep.LogLine()
	if err != nil {
		t.Fatalf("log line: %v", err)
	}
	if !strings.HasPrefix(line, RampDepositLogPrefix) {
		t.Fatalf("missing prefix: %q", line)
	}
	parsed, err := ParseRampDeposit("Program log: " + line)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(*parsed, dep) {
		t.Fatalf("parsed %+v, want %+v", *parsed, dep)
	}

	evt := dep.Event()
	if evt.Type != TypeRampDeposit || dep.EventType() != TypeRampDeposit {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	if evt.Attributes["assetName"] != "USDC" {
		t.Fatalf("asset name not normalised: %q", evt.Attributes["assetName"])
	}
	if evt.Attributes["amount"] != "42000" || evt.Attributes["region"] != "4" {
		t.Fatalf("unexpected attributes: %v", evt.Attributes)
	}
	if evt.Attributes["ledger"] != "5e"+strings.Repeat("00", 31) {
		t.Fatalf("unexpected ledger attribute %q", evt.Attributes["ledger"])
	}
	if evt.Attributes["data"] != "aW52b2ljZS03" {
		t.Fatalf("unexpected data attribute %q", evt.Attributes["data"])
	}
}

func TestParseRampDepositRejectsMalformedLines(t *testing.T) {
	for _, line := range []string{
		"",
		"RampWithdraw:AAAA",
		RampDepositLogPrefix + "!!!",
		RampDepositLogPrefix + "AAAA",
	} {
		if _, err := ParseRampDeposit(line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestRampDepositDistinguishesLedgers(t *testing.T) {
	first := RampDeposit{AssetName: "KES", Amount: 10, Region: 1}
	first.Ledger[0] = 0x01
	second := first
	second.Ledger[0] = 0x02

	a, err := first.LogLine()
	if err != nil {
		t.Fatalf("log line: %v", err)
	}
	b, err := second.LogLine()
	if err != nil {
		t.Fatalf("log line: %v", err)
	}
	if a == b {
		t.Fatalf("deposits into different ledgers render the same line")
	}
	if first.Event().Attributes["ledger"] == second.Event().Attributes["ledger"] {
		t.Fatalf("deposits into different ledgers render the same attributes")
	}
}

func TestParseRampDepositAcceptsLinesWithoutLedger(t *testing.T) {
	legacy := struct {
		Asset     [32]byte
		AssetName string
		Amount    uint64
		Depositor [32]byte
		Region    uint8
		Medium    uint8
		Data      []byte
	}{AssetName: "USDC", Amount: 5, Data: []byte("x")}
	raw, err := rlp.EncodeToBytes(&legacy)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := ParseRampDeposit(RampDepositLogPrefix + base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Amount != 5 || parsed.Ledger != ([32]byte{}) {
		t.Fatalf("unexpected legacy decode %+v", parsed)
	}
}
