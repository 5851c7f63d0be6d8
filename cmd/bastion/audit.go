package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Bastion/pkg/accounts"
	"github.com/fortiblox/X1-Bastion/pkg/compute"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/programs/catalog"
	"github.com/fortiblox/X1-Bastion/pkg/receipts"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run every exploit against the insecure and secure instruction variants",
	Long: `Deploys the catalog programs into a ledger, attacks each insecure
instruction and repeats the attack against its secure twin. Fails unless
every attack succeeds against the insecure variant and is rejected with the
expected tag by the secure one.`,
	RunE: runAudit,
}

func init() {
	f := auditCmd.Flags()
	f.String("data-dir", "./bastion-data", "Directory for the accounts store and receipts")
	f.Bool("in-memory", false, "Keep the ledger in memory; no receipts are written")
	f.String("namespace", "", "Key namespace; defaults to a fresh one per run")
	f.String("snapshot-dir", "", "Write an accounts snapshot here after the run")
	f.Uint64("compute-limit", compute.CUDefault, "Compute budget per transaction")
	rootCmd.AddCommand(auditCmd)
}

type findingView struct {
	Name       string `json:"name"`
	Class      string `json:"class"`
	Impact     string `json:"impact"`
	Exploited  bool   `json:"exploited"`
	ExploitTag string `json:"exploitTag,omitempty"`
	Blocked    bool   `json:"blocked"`
	DefenseTag string `json:"defenseTag"`
	Want       string `json:"want"`
}

type auditReport struct {
	Namespace string        `json:"namespace"`
	Findings  []findingView `json:"findings"`
	StateHash string        `json:"stateHash"`
	Version   uint64        `json:"version"`
	Snapshot  string        `json:"snapshot,omitempty"`
}

func runAudit(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, journal, err := openLedger(log)
	if err != nil {
		return err
	}
	defer db.Close()
	if journal != nil {
		defer journal.Close()
	}

	cfg := runtime.DefaultConfig()
	cfg.ComputeLimit = viper.GetUint64("compute-limit")
	cfg.Logger = log
	rt, err := runtime.New(db, journal, cfg)
	if err != nil {
		return err
	}

	namespace := viper.GetString("namespace")
	if namespace == "" {
		namespace = fmt.Sprintf("audit-%d", time.Now().UnixNano())
	}
	log.Info("running catalog", zap.String("namespace", namespace), zap.Strings("scenarios", catalog.Names()))

	findings, err := catalog.Run(ctx, programs.NewSandbox(rt, namespace))
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	hash, err := rt.StateHash()
	if err != nil {
		return err
	}
	report := auditReport{Namespace: namespace, StateHash: hash.Hex(), Version: db.Version()}
	failed := 0
	for i := range findings {
		f := &findings[i]
		report.Findings = append(report.Findings, findingView{
			Name:       f.Name,
			Class:      f.Class,
			Impact:     f.Impact,
			Exploited:  f.Exploitable(),
			ExploitTag: tagOf(f.Exploit),
			Blocked:    f.Blocked(),
			DefenseTag: tagOf(f.Defense),
			Want:       string(f.Want),
		})
		if !f.Exploitable() || !f.Blocked() {
			failed++
			log.Warn("scenario did not behave as expected",
				zap.String("scenario", f.Name),
				zap.Bool("exploited", f.Exploitable()),
				zap.String("defenseTag", tagOf(f.Defense)),
				zap.String("want", string(f.Want)),
			)
		}
	}

	if dir := viper.GetString("snapshot-dir"); dir != "" {
		path := filepath.Join(dir, accounts.SnapshotFilename(db.Version(), hash))
		header, err := accounts.WriteSnapshot(db, path)
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		report.Snapshot = path
		log.Info("wrote snapshot", zap.String("path", path), zap.Uint64("accounts", header.AccountsCount))
	}

	if err := printReport(report); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios did not behave as expected", failed, len(findings))
	}
	return nil
}

// openLedger opens the accounts store and, for on-disk ledgers, the
// receipts journal.
func openLedger(log *zap.Logger) (*accounts.BadgerDB, *receipts.Store, error) {
	if viper.GetBool("in-memory") {
		cfg := accounts.DefaultBadgerDBConfig("")
		cfg.InMemory = true
		cfg.Logger = log
		db, err := accounts.NewBadgerDB(cfg)
		return db, nil, err
	}

	dir := viper.GetString("data-dir")
	cfg := accounts.DefaultBadgerDBConfig(filepath.Join(dir, "accounts"))
	cfg.Logger = log
	db, err := accounts.NewBadgerDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	journal, err := receipts.Open(receipts.DefaultConfig(filepath.Join(dir, "receipts.db")))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, journal, nil
}

func tagOf(res *runtime.Result) string {
	if res == nil {
		return ""
	}
	return string(res.Tag)
}

func printReport(r auditReport) error {
	if jsonOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tCLASS\tINSECURE\tSECURE\tWANT")
	for _, f := range r.Findings {
		insecure := "exploited"
		if !f.Exploited {
			insecure = "rejected: " + f.ExploitTag
		}
		secure := f.DefenseTag
		if secure == "" {
			secure = "committed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.Name, f.Class, insecure, secure, f.Want)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nnamespace:  %s\nversion:    %d\nstate hash: %s\n", r.Namespace, r.Version, r.StateHash)
	if r.Snapshot != "" {
		fmt.Printf("snapshot:   %s\n", r.Snapshot)
	}
	return nil
}
