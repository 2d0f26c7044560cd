package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"rampledger/cmd/internal/passphrase"
	"rampledger/core/types"
	"rampledger/crypto"
	"rampledger/native/ramp"
	"rampledger/rpc"
)

// keystoreParams is swapped for lighter parameters in tests.
var keystoreParams = crypto.StandardKeystoreParams

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type cli struct {
	client *client
	pass   *passphrase.Source
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	endpoint, args, err := applyGlobalFlags(defaultRPCEndpoint(), args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprint(stderr, usage())
		return 1
	}
	c := &cli{
		client: newClient(endpoint),
		pass:   passphrase.NewSource(passphrase.EnvVar, "ramp keystore"),
		stdout: stdout,
		stderr: stderr,
	}

	switch args[0] {
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage())
		return 0
	case "keygen":
		return c.keygen(args[1:])
	case "ledger-id":
		return c.ledgerID(args[1:])
	case "show":
		return c.show(args[1:])
	case "balance":
		return c.balance(args[1:])
	case "nonce":
		return c.nonce(args[1:])
	}
	if builder, ok := instructionCommands[args[0]]; ok {
		return c.submit(args[0], args[1:], builder)
	}
	fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
	fmt.Fprint(stderr, usage())
	return 1
}

func usage() string {
	return `Usage: rampctl [--rpc URL] <command> [flags]

Key management:
  keygen          --out PATH
  ledger-id       --owner ID|--keystore PATH --seed N

Ledger instructions (all take --keystore PATH, --ledger ID or --seed N, and [--chain-id N]):
  init            --seed N [--vault ID] [--native-fee PCT] [--capacity N]
  set-owner       --owner ID
  set-active      [--active=false]
  add-asset       --asset ID [--fee PCT] [--initial AMOUNT]
  remove-asset    --asset ID [--recipient ID]
  set-asset-fee   --asset ID --fee PCT
  set-native-fee  --fee PCT
  set-vault       --vault ID
  deposit         --asset ID --amount N --region CODE [--medium NAME] [--data REF]
  withdraw        --asset ID --amount N --recipient ID
  deposit-native  --amount N --region CODE [--medium NAME] [--data REF]
  withdraw-native --amount N --recipient ID
  sweep-revenue   --asset ID | --native

Queries:
  show            --ledger ID
  balance         --account ID [--asset ID]
  nonce           --account ID

Environment:
  RAMP_RPC_URL              server endpoint (default http://localhost:8645)
  RAMP_RPC_TOKEN            bearer token sent with every request
  RAMP_KEYSTORE_PASSPHRASE  keystore passphrase (prompted when unset)
`
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parse returns a non-negative exit code when the command should stop.
func (c *cli) parse(fs *flag.FlagSet, args []string) int {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "Error: unexpected positional arguments")
		return 1
	}
	return -1
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) print(v interface{}) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.fail(err)
	}
	return 0
}

func (c *cli) loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--keystore is required")
	}
	pass, err := c.pass.Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

type identityOutput struct {
	Identity string `json:"identity"`
	Hex      string `json:"hex"`
}

func newIdentityOutput(id [32]byte) identityOutput {
	return identityOutput{Identity: crypto.Identity(id).String(), Hex: hex.EncodeToString(id[:])}
}

func (c *cli) keygen(args []string) int {
	fs := c.newFlagSet("keygen")
	out := fs.String("out", "", "Keystore file to create")
	if code := c.parse(fs, args); code >= 0 {
		return code
	}
	if strings.TrimSpace(*out) == "" {
		return c.fail(fmt.Errorf("--out is required"))
	}
	if _, err := os.Stat(*out); err == nil {
		return c.fail(fmt.Errorf("%s already exists", *out))
	}
	pass, err := c.pass.Get()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(err)
	}
	if err := crypto.SaveToKeystoreWithParams(*out, key, pass, keystoreParams); err != nil {
		return c.fail(err)
	}
	return c.print(newIdentityOutput([32]byte(key.Identity())))
}

func parseSeed(raw string) (uint64, error) {
	seed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--seed: %w", err)
	}
	return seed, nil
}

func (c *cli) ledgerID(args []string) int {
	fs := c.newFlagSet("ledger-id")
	owner := fs.String("owner", "", "Owner identity")
	keystorePath := fs.String("keystore", "", "Derive the owner from this keystore")
	seed := fs.String("seed", "", "Ledger seed")
	if code := c.parse(fs, args); code >= 0 {
		return code
	}
	n, err := parseSeed(*seed)
	if err != nil {
		return c.fail(err)
	}
	var id [32]byte
	if strings.TrimSpace(*owner) != "" {
		if id, err = requiredID("owner", *owner); err != nil {
			return c.fail(err)
		}
	} else {
		key, err := c.loadKey(*keystorePath)
		if err != nil {
			return c.fail(err)
		}
		id = [32]byte(key.Identity())
	}
	return c.print(newIdentityOutput(ramp.DeriveLedgerID(id, n)))
}

func (c *cli) submit(name string, args []string, builder instructionBuilder) int {
	fs := c.newFlagSet(name)
	keystorePath := fs.String("keystore", "", "Keystore holding the signing key")
	ledgerRef := fs.String("ledger", "", "Ledger identifier")
	seed := fs.String("seed", "", "Derive the ledger identifier from the signer and this seed")
	nonceFlag := fs.Int64("nonce", -1, "Envelope nonce (fetched from the server when negative)")
	chainFlag := fs.Int64("chain-id", -1, "Chain id to sign for (fetched from the server when negative)")
	build := builder(fs)
	if code := c.parse(fs, args); code >= 0 {
		return code
	}

	ins, err := build()
	if err != nil {
		return c.fail(err)
	}
	key, err := c.loadKey(*keystorePath)
	if err != nil {
		return c.fail(err)
	}
	signer := [32]byte(key.Identity())

	var ledger [32]byte
	var seedValue uint64
	seeded := strings.TrimSpace(*seed) != ""
	switch {
	case strings.TrimSpace(*ledgerRef) != "" && seeded:
		return c.fail(fmt.Errorf("--ledger and --seed are mutually exclusive"))
	case seeded:
		if seedValue, err = parseSeed(*seed); err != nil {
			return c.fail(err)
		}
		ledger = ramp.DeriveLedgerID(signer, seedValue)
	default:
		if ledger, err = requiredID("ledger", *ledgerRef); err != nil {
			return c.fail(err)
		}
	}
	if initArgs, ok := ins.(ramp.InitializeArgs); ok {
		// The server only accepts ledger ids derived from the signer.
		if !seeded {
			return c.fail(fmt.Errorf("%s requires --seed", name))
		}
		initArgs.Seed = seedValue
		ins = initArgs
	}

	chainID := uint64(*chainFlag)
	if *chainFlag < 0 {
		var view rpc.ChainView
		if err := c.client.get("/v1/chain", &view); err != nil {
			return c.fail(fmt.Errorf("fetch chain id: %w", err))
		}
		chainID = view.ChainID
	}

	nonce := uint64(*nonceFlag)
	if *nonceFlag < 0 {
		var view rpc.NonceView
		if err := c.client.get("/v1/nonces/"+hex.EncodeToString(signer[:]), &view); err != nil {
			return c.fail(fmt.Errorf("fetch nonce: %w", err))
		}
		nonce = view.Nonce
	}

	data, err := ramp.EncodeInstruction(ins)
	if err != nil {
		return c.fail(err)
	}
	env := &types.Envelope{ChainID: chainID, Ledger: ledger, Nonce: nonce, Data: data}
	if err := env.Sign(key.PrivateKey); err != nil {
		return c.fail(err)
	}
	receipt, err := c.client.submit(env)
	if err != nil {
		if apiErr, ok := isAPIError(err); ok && apiErr.Body.Receipt != nil {
			fmt.Fprintf(c.stderr, "Receipt: %s\n", apiErr.Body.Receipt.ID)
		}
		return c.fail(err)
	}
	return c.print(receipt)
}

func (c *cli) show(args []string) int {
	fs := c.newFlagSet("show")
	ledgerRef := fs.String("ledger", "", "Ledger identifier")
	if code := c.parse(fs, args); code >= 0 {
		return code
	}
	id, err := requiredID("ledger", *ledgerRef)
	if err != nil {
		return c.fail(err)
	}
	var view rpc.LedgerView
	if err := c.client.get("/v1/ledgers/"+hex.EncodeToString(id[:]), &view); err != nil {
		return c.fail(err)
	}
	return c.print(view)
}

func (c *cli) balance(args []string) int {
	fs := c.newFlagSet("balance")
	account := fs.String("account", "", "Account identity")
	asset := fs.String("asset", "", "Asset identifier (native balance when omitted)")
	if code := c.parse(fs, args); code >= 0 {
		return code
	}
	who, err := requiredID("account", *account)
	if err != nil {
		return c.fail(err)
	}
	what, err := optionalID("asset", *asset)
	if err != nil {
		return c.fail(err)
	}
	path := "/v1/native/" + hex.EncodeToString(who[:])
	if what != ([32]byte{}) {
		path = "/v1/balances/" + hex.EncodeToString(what[:]) + "/" + hex.EncodeToString(who[:])
	}
	var view rpc.BalanceView
	if err := c.client.get(path, &view); err != nil {
		return c.fail(err)
	}
	return c.print(view)
}

func (c *cli) nonce(args []string) int {
	fs := c.newFlagSet("nonce")
	account := fs.String("account", "", "Signer identity")
	if code := c.parse(fs, args); code >= 0 {
		return code
	}
	who, err := requiredID("account", *account)
	if err != nil {
		return c.fail(err)
	}
	var view rpc.NonceView
	if err := c.client.get("/v1/nonces/"+hex.EncodeToString(who[:]), &view); err != nil {
		return c.fail(err)
	}
	return c.print(view)
}
