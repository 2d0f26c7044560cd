package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rampledger/config"
	"rampledger/core/events"
	"rampledger/core/state"
	"rampledger/core/types"
	"rampledger/native/bank"
	"rampledger/native/ramp"
	"rampledger/observability"
	telemetry "rampledger/observability/otel"
)

var (
	ErrInvalidSignature = errors.New("core: invalid envelope signature")
	ErrNonceMismatch    = errors.New("core: nonce mismatch")
	ErrChainIDMismatch  = errors.New("core: envelope chain id does not match this ledger host")
)

const genesisMarker = "genesis"

// Options tunes the ledger engine built for every submission.
type Options struct {
	ChainID        uint64
	RentPerByte    uint64
	MaxRecordBytes int
	NativeSymbol   string
	Logger         *slog.Logger

	// DefaultCapacity applies when Initialize requests no slot count.
	DefaultCapacity int
	// Emitter receives committed events. Rejected submissions never reach it.
	Emitter         events.Emitter
}

// Receipt reports the outcome of a single submission.
type Receipt struct {
	ID            string         `json:"id"`
	Ledger        string         `json:"ledger"`
	Caller        string         `json:"caller"`
	Op            string         `json:"op"`
	Code          uint32         `json:"code"`
	Error         string         `json:"error,omitempty"`
	Events        []*types.Event `json:"events,omitempty"`
	Notifications []string       `json:"notifications,omitempty"`
}

// Processor serialises ledger instructions against committed state. Every
// instruction runs on its own overlay which is committed in one batch or
// dropped entirely.
type Processor struct {
	mu      sync.RWMutex
	state   *state.Manager
	opts    Options
	logger  *slog.Logger
	emitter events.Emitter
	metrics *observability.RampMetrics
	tracer  trace.Tracer
}

// NewProcessor constructs a processor over the supplied state manager.
func NewProcessor(manager *state.Manager, opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var emitter events.Emitter = events.NoopEmitter{}
	if opts.Emitter != nil {
		emitter = opts.Emitter
	}
	return &Processor{
		state:   manager,
		opts:    opts,
		logger:  logger.With("component", "ramp"),
		emitter: emitter,
		metrics: observability.Ramp(),
		tracer:  telemetry.Tracer(),
	}
}

type bufferedEmitter struct {
	events []events.Event
}

func (b *bufferedEmitter) Emit(evt events.Event) { b.events = append(b.events, evt) }

func (p *Processor) engine(st *state.Tx, emitter events.Emitter) *ramp.Engine {
	accounts := bank.New(st)
	engine := ramp.NewEngine()
	engine.SetState(st)
	engine.SetBank(accounts)
	engine.SetNativeVault(accounts)
	engine.SetEmitter(emitter)
	engine.SetRentPerByte(p.opts.RentPerByte)
	engine.SetMaxRecordBytes(p.opts.MaxRecordBytes)
	engine.SetDefaultCapacity(p.opts.DefaultCapacity)
	engine.SetNativeSymbol(p.opts.NativeSymbol)
	return engine
}

// Submit verifies the envelope signature, chain id and nonce before executing the
// carried instruction on behalf of the recovered signer. The signer's nonce
// advances only when the instruction commits. The returned receipt is nil
// when the envelope was rejected before execution.
func (p *Processor) Submit(ctx context.Context, env *types.Envelope) (*Receipt, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrInvalidSignature)
	}
	signer, err := env.Signer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if env.ChainID != p.opts.ChainID {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrChainIDMismatch, env.ChainID, p.opts.ChainID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	expected, err := p.state.Nonce(signer)
	if err != nil {
		return nil, err
	}
	if env.Nonce != expected {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrNonceMismatch, env.Nonce, expected)
	}
	next := expected + 1
	return p.run(ctx, ramp.Caller{ID: signer, Signer: true}, env.Ledger, env.Data, &next)
}

// ChainID reports the chain id envelopes must be signed for.
func (p *Processor) ChainID() uint64 { return p.opts.ChainID }

// Execute runs an instruction for a caller authenticated by the embedding
// host. No nonce is consumed.
func (p *Processor) Execute(ctx context.Context, caller ramp.Caller, ledger [32]byte, data []byte) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run(ctx, caller, ledger, data, nil)
}

func (p *Processor) run(ctx context.Context, caller ramp.Caller, ledger [32]byte, data []byte, nonce *uint64) (*Receipt, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "ramp.execute")
	defer span.End()

	receipt := &Receipt{
		ID:     uuid.NewString(),
		Ledger: hex.EncodeToString(ledger[:]),
		Caller: hex.EncodeToString(caller.ID[:]),
		Op:     "unknown",
	}
	err := ctx.Err()
	var ins ramp.Instruction
	if err == nil {
		ins, err = ramp.DecodeInstruction(data)
	}
	if ins != nil {
		receipt.Op = ins.Opcode().String()
	}
	span.SetAttributes(
		attribute.String("ramp.op", receipt.Op),
		attribute.String("ramp.ledger", receipt.Ledger),
		attribute.String("ramp.receipt", receipt.ID),
	)

	tx := p.state.Begin()
	defer tx.Discard()
	buffer := &bufferedEmitter{}
	if err == nil {
		err = p.engine(tx, buffer).Execute(caller, ledger, ins)
	}
	if err == nil && nonce != nil {
		err = tx.SetNonce(caller.ID, *nonce)
	}
	if err == nil {
		err = tx.Commit()
	}

	receipt.Code = ramp.Code(err)
	p.metrics.ObserveSubmission(receipt.Op, receipt.Code, time.Since(start))
	span.SetAttributes(attribute.Int64("ramp.code", int64(receipt.Code)))
	if err != nil {
		receipt.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("ramp instruction rejected",
			slog.String("receipt", receipt.ID),
			slog.String("op", receipt.Op),
			slog.String("ledger", receipt.Ledger),
			slog.Any("code", receipt.Code),
			slog.Any("error", err))
		return receipt, err
	}
	p.publish(receipt, buffer.events)
	p.logger.Info("ramp instruction committed",
		slog.String("receipt", receipt.ID),
		slog.String("op", receipt.Op),
		slog.String("ledger", receipt.Ledger),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

type eventer interface {
	Event() *types.Event
}

func (p *Processor) publish(receipt *Receipt, committed []events.Event) {
	for _, evt := range committed {
		if deposit, ok := evt.(events.RampDeposit); ok {
			line, err := deposit.LogLine()
			if err != nil {
				p.logger.Error("encode ramp deposit notification", slog.Any("error", err))
			} else {
				receipt.Notifications = append(receipt.Notifications, line)
				p.logger.Info(line, slog.String("receipt", receipt.ID))
			}
			p.metrics.RecordDeposit(deposit.AssetName)
		}
		if e, ok := evt.(eventer); ok {
			receipt.Events = append(receipt.Events, e.Event())
		}
		p.emitter.Emit(evt)
	}
}

// Ledger returns the committed state of a ledger.
func (p *Processor) Ledger(id [32]byte) (*ramp.LedgerState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	engine := ramp.NewEngine()
	engine.SetState(p.state)
	return engine.Ledger(id)
}

// Balance returns the committed asset balance of account.
func (p *Processor) Balance(asset, account [32]byte) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Balance(asset, account)
}

// NativeBalance returns the committed native balance of account.
func (p *Processor) NativeBalance(account [32]byte) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.NativeBalance(account)
}

// CustodyAccount returns the account holding the ledger's asset deposits.
func (p *Processor) CustodyAccount(ledger, asset [32]byte) [32]byte {
	return bank.New(p.state).CustodyAccount(ledger, asset)
}

// Nonce returns the next nonce expected from signer.
func (p *Processor) Nonce(signer [32]byte) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Nonce(signer)
}

// ApplyGenesis mints the configured allocations exactly once per data
// directory. It reports whether the allocations were applied by this call.
func (p *Processor) ApplyGenesis(allocs []config.GenesisAllocation) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	done, err := p.state.Marker(genesisMarker)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	tx := p.state.Begin()
	defer tx.Discard()
	accounts := bank.New(tx)
	for _, alloc := range allocs {
		if alloc.Native {
			err = accounts.MintNative(alloc.Account, alloc.Amount)
		} else {
			if alloc.Name != "" {
				if err = tx.RegisterToken(alloc.Asset, alloc.Name, 0); err != nil {
					return false, fmt.Errorf("genesis token: %w", err)
				}
			}
			err = accounts.Mint(alloc.Asset, alloc.Account, alloc.Amount)
		}
		if err != nil {
			return false, fmt.Errorf("genesis allocation: %w", err)
		}
	}
	if err := tx.SetMarker(genesisMarker); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	p.logger.Info("genesis applied", slog.Int("allocations", len(allocs)))
	return true, nil
}
