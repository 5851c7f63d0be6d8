package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fortiblox/X1-Bastion/pkg/receipts"
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "List the latest transaction receipts and a tally by error tag",
	RunE:  runReceipts,
}

func init() {
	f := receiptsCmd.Flags()
	f.String("data-dir", "./bastion-data", "Directory holding receipts.db")
	f.Int("limit", 20, "Number of receipts to list")
	rootCmd.AddCommand(receiptsCmd)
}

func runReceipts(cmd *cobra.Command, _ []string) error {
	store, err := receipts.Open(receipts.DefaultConfig(filepath.Join(viper.GetString("data-dir"), "receipts.db")))
	if err != nil {
		return err
	}
	defer store.Close()

	limit := viper.GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}
	var from uint64
	if n := store.Count(); n > uint64(limit) {
		from = n - uint64(limit)
	}
	list, err := store.Range(from, limit)
	if err != nil {
		return err
	}
	tally, err := store.Tally()
	if err != nil {
		return err
	}

	if jsonOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Receipts []*receipts.Receipt `json:"receipts"`
			Tally    map[string]uint64   `json:"tally"`
		}{list, tally})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tSIGNATURE\tINSTRUCTION\tSTAGE\tTAG")
	for _, r := range list {
		tag := r.Tag
		if tag == "" {
			tag = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", r.Seq, r.Signature, r.Instruction, r.Stage, tag)
	}
	fmt.Fprintln(w)
	tags := make([]string, 0, len(tally))
	for t := range tally {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	for _, t := range tags {
		name := t
		if name == "" {
			name = "committed"
		}
		fmt.Fprintf(w, "%s\t%d\n", name, tally[t])
	}
	return w.Flush()
}
