package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rampledger/config"
	"rampledger/core/events"
	"rampledger/core/state"
	"rampledger/core/types"
	"rampledger/crypto"
	"rampledger/native/ramp"
	"rampledger/storage"
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

type harness struct {
	db        *storage.MemDB
	proc      *Processor
	emitter   *recordingEmitter
	owner     *crypto.PrivateKey
	ownerID   [32]byte
	asset     [32]byte
	vault     [32]byte
	ledger    [32]byte
	nextNonce uint64
}

func newHarness(t *testing.T, extra ...config.GenesisAllocation) *harness {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	h := &harness{
		db:      storage.NewMemDB(),
		emitter: &recordingEmitter{},
		owner:   key,
		ownerID: [32]byte(key.Identity()),
	}
	h.asset[0] = 0xA1
	h.vault[0] = 0xF0
	h.ledger = ramp.DeriveLedgerID(h.ownerID, 1)
	h.proc = NewProcessor(state.NewManager(h.db), Options{
		RentPerByte:  1,
		NativeSymbol: "RAMP",
		Emitter:      h.emitter,
	})
	applied, err := h.proc.ApplyGenesis(append([]config.GenesisAllocation{
		{Account: h.ownerID, Native: true, Amount: uint256.NewInt(10_000)},
		{Account: h.ownerID, Asset: h.asset, Amount: uint256.NewInt(1_000), Name: "usdc"},
	}, extra...))
	require.NoError(t, err)
	require.True(t, applied)
	return h
}

func (h *harness) envelope(t *testing.T, nonce uint64, ins ramp.Instruction) *types.Envelope {
	t.Helper()
	return signedEnvelope(t, h.owner, h.ledger, nonce, ins)
}

func signedEnvelope(t *testing.T, key *crypto.PrivateKey, ledger [32]byte, nonce uint64, ins ramp.Instruction) *types.Envelope {
	t.Helper()
	data, err := ramp.EncodeInstruction(ins)
	require.NoError(t, err)
	env := &types.Envelope{Ledger: ledger, Nonce: nonce, Data: data}
	require.NoError(t, env.Sign(key.PrivateKey))
	return env
}

func (h *harness) submit(t *testing.T, ins ramp.Instruction) (*Receipt, error) {
	t.Helper()
	receipt, err := h.proc.Submit(context.Background(), h.envelope(t, h.nextNonce, ins))
	if err == nil {
		h.nextNonce++
	}
	return receipt, err
}

func (h *harness) mustSubmit(t *testing.T, ins ramp.Instruction) *Receipt {
	t.Helper()
	receipt, err := h.submit(t, ins)
	require.NoError(t, err)
	require.Equal(t, ramp.CodeOK, receipt.Code)
	return receipt
}

func (h *harness) mustSubmitAs(t *testing.T, key *crypto.PrivateKey, ledger [32]byte, nonce uint64, ins ramp.Instruction) *Receipt {
	t.Helper()
	receipt, err := h.proc.Submit(context.Background(), signedEnvelope(t, key, ledger, nonce, ins))
	require.NoError(t, err)
	require.Equal(t, ramp.CodeOK, receipt.Code)
	return receipt
}

func (h *harness) openLedger(t *testing.T) {
	t.Helper()
	h.mustSubmit(t, ramp.InitializeArgs{Vault: h.vault, NativeFeePercentage: 5, Capacity: 2, Seed: 1})
	h.mustSubmit(t, ramp.SetActiveArgs{Active: true})
	h.mustSubmit(t, ramp.AddAssetArgs{Asset: h.asset, FeePercentage: 10})
}

func TestSubmitDepositLifecycle(t *testing.T) {
	h := newHarness(t)
	h.openLedger(t)

	native, err := h.proc.NativeBalance(ramp.LedgerAccount(h.ledger))
	require.NoError(t, err)
	require.Equal(t, uint64(ramp.RecordSize(2)), native.Uint64())
	unrelated, err := h.proc.NativeBalance(h.ledger)
	require.NoError(t, err)
	require.True(t, unrelated.IsZero())

	receipt := h.mustSubmit(t, ramp.DepositArgs{
		Asset:  h.asset,
		Amount: 500,
		Region: ramp.RegionNGA,
		Medium: ramp.MediumSecondary,
		Data:   []byte("order-9"),
	})
	require.Equal(t, "deposit", receipt.Op)
	require.NotEmpty(t, receipt.ID)
	require.Len(t, receipt.Notifications, 1)
	require.True(t, strings.HasPrefix(receipt.Notifications[0], events.RampDepositLogPrefix))
	parsed, err := events.ParseRampDeposit(receipt.Notifications[0])
	require.NoError(t, err)
	require.Equal(t, uint64(500), parsed.Amount)
	require.Equal(t, h.ownerID, parsed.Depositor)
	require.Equal(t, "usdc", parsed.AssetName)
	require.Equal(t, "order-9", string(parsed.Data))
	require.Equal(t, h.ledger, parsed.Ledger)

	held, err := h.proc.Balance(h.asset, h.ownerID)
	require.NoError(t, err)
	require.Equal(t, uint64(500), held.Uint64())
	custody, err := h.proc.Balance(h.asset, h.proc.CustodyAccount(h.ledger, h.asset))
	require.NoError(t, err)
	require.Equal(t, uint64(500), custody.Uint64())

	ledger, err := h.proc.Ledger(h.ledger)
	require.NoError(t, err)
	entry, ok := ledger.Entry(h.asset)
	require.True(t, ok)
	require.Equal(t, uint64(50), entry.Revenue.Uint64())

	nonce, err := h.proc.Nonce(h.ownerID)
	require.NoError(t, err)
	require.Equal(t, uint64(4), nonce)

	last := h.emitter.events[len(h.emitter.events)-1]
	require.Equal(t, events.TypeRampDeposit, last.EventType())
}

func TestSubmitRejectsUnsignedAndReplayedEnvelopes(t *testing.T) {
	h := newHarness(t)

	unsigned := &types.Envelope{Ledger: h.ledger, Nonce: 0, Data: []byte{0xc0}}
	receipt, err := h.proc.Submit(context.Background(), unsigned)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Nil(t, receipt)

	h.mustSubmit(t, ramp.InitializeArgs{Vault: h.vault, Seed: 1})
	replay := h.envelope(t, 0, ramp.SetActiveArgs{Active: true})
	receipt, err = h.proc.Submit(context.Background(), replay)
	require.ErrorIs(t, err, ErrNonceMismatch)
	require.Nil(t, receipt)
}

func TestSubmitRejectsForeignChainID(t *testing.T) {
	h := newHarness(t)
	env := h.envelope(t, 0, ramp.InitializeArgs{Vault: h.vault, Seed: 1})
	env.ChainID = 5
	require.NoError(t, env.Sign(h.owner.PrivateKey))

	receipt, err := h.proc.Submit(context.Background(), env)
	require.ErrorIs(t, err, ErrChainIDMismatch)
	require.Nil(t, receipt)
	nonce, err := h.proc.Nonce(h.ownerID)
	require.NoError(t, err)
	require.Zero(t, nonce)
	_, err = h.proc.Ledger(h.ledger)
	require.ErrorIs(t, err, ramp.ErrUninitializedAccount)
}

func TestLedgerCannotBeOpenedOverAnotherIdentity(t *testing.T) {
	attacker, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	attackerID := [32]byte(attacker.Identity())
	h := newHarness(t, config.GenesisAllocation{Account: attackerID, Native: true, Amount: uint256.NewInt(5_000)})

	// The victim's identity holds funds but is not a ledger id the attacker
	// can derive. Failed envelopes do not consume the nonce.
	squat := signedEnvelope(t, attacker, h.ownerID, 0, ramp.InitializeArgs{Vault: h.vault})
	receipt, err := h.proc.Submit(context.Background(), squat)
	require.ErrorIs(t, err, ramp.ErrInvalidInstruction)
	require.NotNil(t, receipt)
	require.Equal(t, "initialize", receipt.Op)

	drain := signedEnvelope(t, attacker, h.ownerID, 0, ramp.WithdrawNativeArgs{Amount: 10_000, Recipient: attackerID})
	receipt, err = h.proc.Submit(context.Background(), drain)
	require.ErrorIs(t, err, ramp.ErrUninitializedAccount)
	require.NotNil(t, receipt)

	victim, err := h.proc.NativeBalance(h.ownerID)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), victim.Uint64())
	_, err = h.proc.Ledger(h.ownerID)
	require.ErrorIs(t, err, ramp.ErrUninitializedAccount)

	// A ledger derived from the attacker's own key opens normally and its rent
	// lands in the ledger's own account.
	own := ramp.DeriveLedgerID(attackerID, 0)
	h.mustSubmitAs(t, attacker, own, 0, ramp.InitializeArgs{Vault: h.vault})
	rent, err := h.proc.NativeBalance(ramp.LedgerAccount(own))
	require.NoError(t, err)
	require.Equal(t, uint64(ramp.RecordSize(ramp.DefaultCapacity)), rent.Uint64())
	victim, err = h.proc.NativeBalance(h.ownerID)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), victim.Uint64())
}

func TestFailedSubmissionLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.mustSubmit(t, ramp.InitializeArgs{Vault: h.vault, Capacity: 2, Seed: 1})
	before := h.db.Len()
	emitted := len(h.emitter.events)

	// The custody account is registered before the initial transfer fails.
	receipt, err := h.submit(t, ramp.AddAssetArgs{Asset: h.asset, FeePercentage: 1, InitialAmount: 5_000})
	require.ErrorIs(t, err, ramp.ErrTransferFailed)
	require.NotNil(t, receipt)
	require.Equal(t, uint32(12), receipt.Code)
	require.Equal(t, "add_asset", receipt.Op)
	require.NotEmpty(t, receipt.Error)

	require.Equal(t, before, h.db.Len())
	require.Len(t, h.emitter.events, emitted)
	nonce, err := h.proc.Nonce(h.ownerID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
	held, err := h.proc.Balance(h.asset, h.ownerID)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), held.Uint64())
	ledger, err := h.proc.Ledger(h.ledger)
	require.NoError(t, err)
	_, ok := ledger.Entry(h.asset)
	require.False(t, ok)
}

func TestExecuteReportsLedgerErrors(t *testing.T) {
	h := newHarness(t)
	data, err := ramp.EncodeInstruction(ramp.InitializeArgs{Vault: h.vault, Seed: 1})
	require.NoError(t, err)

	receipt, err := h.proc.Execute(context.Background(), ramp.Caller{ID: h.ownerID}, h.ledger, data)
	require.ErrorIs(t, err, ramp.ErrNotSigner)
	require.Equal(t, uint32(6), receipt.Code)

	receipt, err = h.proc.Execute(context.Background(), ramp.Caller{ID: h.ownerID, Signer: true}, h.ledger, []byte{0xff})
	require.ErrorIs(t, err, ramp.ErrInvalidInstruction)
	require.Equal(t, "unknown", receipt.Op)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.proc.Execute(ctx, ramp.Caller{ID: h.ownerID, Signer: true}, h.ledger, data)
	require.True(t, errors.Is(err, context.Canceled))
	_, err = h.proc.Ledger(h.ledger)
	require.ErrorIs(t, err, ramp.ErrUninitializedAccount)

	receipt, err = h.proc.Execute(context.Background(), ramp.Caller{ID: h.ownerID, Signer: true}, h.ledger, data)
	require.NoError(t, err)
	require.Equal(t, "initialize", receipt.Op)
	nonce, err := h.proc.Nonce(h.ownerID)
	require.NoError(t, err)
	require.Zero(t, nonce)
}

func TestApplyGenesisRunsOnce(t *testing.T) {
	h := newHarness(t)
	applied, err := h.proc.ApplyGenesis([]config.GenesisAllocation{
		{Account: h.ownerID, Native: true, Amount: uint256.NewInt(1)},
	})
	require.NoError(t, err)
	require.False(t, applied)
	native, err := h.proc.NativeBalance(h.ownerID)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), native.Uint64())
}
