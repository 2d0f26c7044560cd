package main

import (
	"flag"
	"fmt"
	"strings"

	"rampledger/crypto"
	"rampledger/native/ramp"
)

// instructionBuilder registers the command's flags and returns a function that
// assembles the instruction once the flags are parsed.
type instructionBuilder func(fs *flag.FlagSet) func() (ramp.Instruction, error)

var instructionCommands = map[string]instructionBuilder{
	"init": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		vault := fs.String("vault", "", "Vault receiving swept revenue")
		fee := fs.Uint64("native-fee", 0, "Native deposit fee percentage (0-100)")
		capacity := fs.Uint("capacity", 0, "Asset slot count (0 selects the server default)")
		return func() (ramp.Instruction, error) {
			id, err := optionalID("vault", *vault)
			if err != nil {
				return nil, err
			}
			if *capacity > ramp.MaxCapacity {
				return nil, fmt.Errorf("--capacity must not exceed %d", ramp.MaxCapacity)
			}
			return ramp.InitializeArgs{Vault: id, NativeFeePercentage: *fee, Capacity: uint16(*capacity)}, nil
		}
	},
	"set-owner": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		owner := fs.String("owner", "", "New owner identity")
		return func() (ramp.Instruction, error) {
			id, err := requiredID("owner", *owner)
			if err != nil {
				return nil, err
			}
			return ramp.SetOwnerArgs{NewOwner: id}, nil
		}
	},
	"set-active": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		active := fs.Bool("active", true, "Accept deposits and withdrawals")
		return func() (ramp.Instruction, error) {
			return ramp.SetActiveArgs{Active: *active}, nil
		}
	},
	"add-asset": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		asset := fs.String("asset", "", "Asset identifier")
		fee := fs.Uint64("fee", 0, "Deposit fee percentage (0-100)")
		initial := fs.Uint64("initial", 0, "Amount moved from the signer into custody")
		return func() (ramp.Instruction, error) {
			id, err := requiredID("asset", *asset)
			if err != nil {
				return nil, err
			}
			return ramp.AddAssetArgs{Asset: id, FeePercentage: *fee, InitialAmount: *initial}, nil
		}
	},
	"remove-asset": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		asset := fs.String("asset", "", "Asset identifier")
		recipient := fs.String("recipient", "", "Receiver of the custody balance (defaults to the owner)")
		return func() (ramp.Instruction, error) {
			id, err := requiredID("asset", *asset)
			if err != nil {
				return nil, err
			}
			to, err := optionalID("recipient", *recipient)
			if err != nil {
				return nil, err
			}
			return ramp.RemoveAssetArgs{Asset: id, Recipient: to}, nil
		}
	},
	"set-asset-fee": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		asset := fs.String("asset", "", "Asset identifier")
		fee := fs.Uint64("fee", 0, "Deposit fee percentage (0-100)")
		return func() (ramp.Instruction, error) {
			id, err := requiredID("asset", *asset)
			if err != nil {
				return nil, err
			}
			return ramp.SetAssetFeeArgs{Asset: id, FeePercentage: *fee}, nil
		}
	},
	"set-native-fee": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		fee := fs.Uint64("fee", 0, "Native deposit fee percentage (0-100)")
		return func() (ramp.Instruction, error) {
			return ramp.SetNativeFeePercentageArgs{FeePercentage: *fee}, nil
		}
	},
	"set-vault": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		vault := fs.String("vault", "", "Vault receiving swept revenue")
		return func() (ramp.Instruction, error) {
			id, err := requiredID("vault", *vault)
			if err != nil {
				return nil, err
			}
			return ramp.SetVaultAddressArgs{Vault: id}, nil
		}
	},
	"deposit": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		asset := fs.String("asset", "", "Asset identifier")
		amount := fs.Uint64("amount", 0, "Amount to deposit")
		notice := depositFlags(fs)
		return func() (ramp.Instruction, error) {
			id, err := requiredID("asset", *asset)
			if err != nil {
				return nil, err
			}
			region, medium, data, err := notice()
			if err != nil {
				return nil, err
			}
			return ramp.DepositArgs{Asset: id, Amount: *amount, Region: region, Medium: medium, Data: data}, nil
		}
	},
	"withdraw": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		asset := fs.String("asset", "", "Asset identifier")
		amount := fs.Uint64("amount", 0, "Amount to release")
		recipient := fs.String("recipient", "", "Receiver of the withdrawal")
		return func() (ramp.Instruction, error) {
			id, err := requiredID("asset", *asset)
			if err != nil {
				return nil, err
			}
			to, err := requiredID("recipient", *recipient)
			if err != nil {
				return nil, err
			}
			return ramp.WithdrawArgs{Asset: id, Amount: *amount, Recipient: to}, nil
		}
	},
	"deposit-native": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		amount := fs.Uint64("amount", 0, "Native amount to deposit")
		notice := depositFlags(fs)
		return func() (ramp.Instruction, error) {
			region, medium, data, err := notice()
			if err != nil {
				return nil, err
			}
			return ramp.DepositNativeArgs{Amount: *amount, Region: region, Medium: medium, Data: data}, nil
		}
	},
	"withdraw-native": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		amount := fs.Uint64("amount", 0, "Native amount to release")
		recipient := fs.String("recipient", "", "Receiver of the withdrawal")
		return func() (ramp.Instruction, error) {
			to, err := requiredID("recipient", *recipient)
			if err != nil {
				return nil, err
			}
			return ramp.WithdrawNativeArgs{Amount: *amount, Recipient: to}, nil
		}
	},
	"sweep-revenue": func(fs *flag.FlagSet) func() (ramp.Instruction, error) {
		asset := fs.String("asset", "", "Asset whose revenue is swept")
		native := fs.Bool("native", false, "Sweep native revenue instead of an asset")
		return func() (ramp.Instruction, error) {
			if *native {
				if strings.TrimSpace(*asset) != "" {
					return nil, fmt.Errorf("--asset and --native are mutually exclusive")
				}
				return ramp.SweepRevenueArgs{Native: true}, nil
			}
			id, err := requiredID("asset", *asset)
			if err != nil {
				return nil, err
			}
			return ramp.SweepRevenueArgs{Asset: id}, nil
		}
	},
}

func depositFlags(fs *flag.FlagSet) func() (ramp.Region, ramp.Medium, []byte, error) {
	region := fs.String("region", "", "Originating region (KEN, NGA, UGA, RWA, GHN, EGY)")
	medium := fs.String("medium", "primary", "Payout rail (primary, secondary, tertiary)")
	data := fs.String("data", "", "Opaque settlement reference")
	return func() (ramp.Region, ramp.Medium, []byte, error) {
		if strings.TrimSpace(*region) == "" {
			return 0, 0, nil, fmt.Errorf("--region is required")
		}
		r, err := ramp.ParseRegion(*region)
		if err != nil {
			return 0, 0, nil, err
		}
		m, err := ramp.ParseMedium(*medium)
		if err != nil {
			return 0, 0, nil, err
		}
		var payload []byte
		if *data != "" {
			payload = []byte(*data)
		}
		return r, m, payload, nil
	}
}

func requiredID(name, value string) ([32]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [32]byte{}, fmt.Errorf("--%s is required", name)
	}
	return optionalID(name, value)
}

func optionalID(name, value string) ([32]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [32]byte{}, nil
	}
	id, err := crypto.ParseIdentity(value)
	if err != nil {
		return [32]byte{}, fmt.Errorf("--%s: %w", name, err)
	}
	return [32]byte(id), nil
}
