package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/compute"
	"github.com/fortiblox/X1-Bastion/pkg/pda"
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Find the canonical program address for a set of seeds",
	Example: `  bastion derive --program Bumj5wt9dm2cK2o9ayeguHUtpnwnUFLQHaqUaewFegV2 --seed vault --pubkey-seed <authority>
  bastion derive --program <id> --seed vault --verify <address> --bump 254`,
	RunE: runDerive,
}

func init() {
	addDeriveFlags(deriveCmd.Flags())
	rootCmd.AddCommand(deriveCmd)
}

func addDeriveFlags(f *pflag.FlagSet) {
	f.String("program", "", "Program ID (base58)")
	f.StringArray("seed", nil, "UTF-8 seed, repeatable")
	f.StringArray("hex-seed", nil, "Hex seed, repeatable, appended after --seed")
	f.StringArray("pubkey-seed", nil, "Base58 address seed, repeatable, appended last")
	f.String("verify", "", "Check that this address is the canonical derivation")
	f.Int("bump", -1, "Bump to check with --verify")
}

type deriveResult struct {
	Program   string `json:"program"`
	Address   string `json:"address"`
	Bump      uint8  `json:"bump"`
	Attempts  int    `json:"attempts"`
	Canonical *bool  `json:"canonical,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func runDerive(cmd *cobra.Command, _ []string) error {
	programID, err := types.PubkeyFromBase58(viper.GetString("program"))
	if err != nil {
		return fmt.Errorf("--program: %w", err)
	}
	seeds, err := deriveSeeds(cmd)
	if err != nil {
		return err
	}

	meter, err := compute.NewComputeMeter(compute.CUMax)
	if err != nil {
		return err
	}
	addr, bump, err := pda.FindProgramAddressMetered(seeds, programID, meter)
	if err != nil {
		return err
	}
	res := deriveResult{
		Program:  programID.String(),
		Address:  addr.String(),
		Bump:     bump,
		Attempts: int(meter.Consumed() / compute.CUFindProgramAddress),
	}

	if v := viper.GetString("verify"); v != "" {
		claimed, err := types.PubkeyFromBase58(v)
		if err != nil {
			return fmt.Errorf("--verify: %w", err)
		}
		claimedBump := bump
		if b := viper.GetInt("bump"); b >= 0 {
			if b > 255 {
				return fmt.Errorf("--bump %d out of range", b)
			}
			claimedBump = uint8(b)
		}
		err = pda.VerifyCanonical(claimed, seeds, claimedBump, programID, compute.Unmetered{})
		ok := err == nil
		res.Canonical = &ok
		if err != nil {
			res.Reason = err.Error()
		}
	}

	if jsonOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Printf("address: %s\nbump:    %d\ntries:   %d\n", res.Address, res.Bump, res.Attempts)
	if res.Canonical != nil {
		if *res.Canonical {
			fmt.Println("verify:  canonical")
		} else {
			fmt.Printf("verify:  rejected (%s)\n", res.Reason)
		}
	}
	return nil
}

// deriveSeeds collects seeds in flag-group order: text, hex, addresses.
func deriveSeeds(cmd *cobra.Command) ([][]byte, error) {
	f := cmd.Flags()
	text, err := f.GetStringArray("seed")
	if err != nil {
		return nil, err
	}
	hexSeeds, err := f.GetStringArray("hex-seed")
	if err != nil {
		return nil, err
	}
	keys, err := f.GetStringArray("pubkey-seed")
	if err != nil {
		return nil, err
	}

	seeds := make([][]byte, 0, len(text)+len(hexSeeds)+len(keys))
	for _, s := range text {
		seeds = append(seeds, []byte(s))
	}
	for _, s := range hexSeeds {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("--hex-seed %q: %w", s, err)
		}
		seeds = append(seeds, b)
	}
	for _, s := range keys {
		k, err := types.PubkeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("--pubkey-seed %q: %w", s, err)
		}
		seeds = append(seeds, k.Bytes())
	}
	return seeds, nil
}
