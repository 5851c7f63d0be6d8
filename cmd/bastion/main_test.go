package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

func TestDeriveSeeds(t *testing.T) {
	key := types.MustPubkeyFromBase58("Bumj5wt9dm2cK2o9ayeguHUtpnwnUFLQHaqUaewFegV2")
	cmd := &cobra.Command{Use: "derive"}
	addDeriveFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{
		"--seed", "vault",
		"--hex-seed", "ff00",
		"--pubkey-seed", key.String(),
	}))
	seeds, err := deriveSeeds(cmd)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("vault"), {0xff, 0x00}, key.Bytes()}, seeds)

	require.NoError(t, cmd.Flags().Set("hex-seed", "zz"))
	_, err = deriveSeeds(cmd)
	require.Error(t, err)
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "derive", args: []string{"derive", "--program", "Bumj5wt9dm2cK2o9ayeguHUtpnwnUFLQHaqUaewFegV2", "--seed", "vault"}},
		{name: "derive bad program", args: []string{"derive", "--program", "not-base58!"}, wantErr: true},
		{name: "audit in memory", args: []string{"audit", "--in-memory", "--log-level", "warn"}},
		{name: "audit on disk", args: []string{"audit", "--in-memory=false", "--data-dir", dir, "--snapshot-dir", dir + "/snapshots", "--log-level", "warn", "-o", "json"}},
		{name: "receipts", args: []string{"receipts", "--data-dir", dir, "--limit", "5"}},
		{name: "bad log level", args: []string{"audit", "--in-memory", "--log-level", "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			err := rootCmd.Execute()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
