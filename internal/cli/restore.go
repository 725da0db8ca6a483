package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/barrowworks/barrow/internal/archive"
	"github.com/barrowworks/barrow/internal/audit"
)

var restorePriorOnly bool

var restoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "Retrieve an archived document",
	Long: `Fetch the archive document at the given path from the configured store
and print it. When document signing is configured the signature is
verified before anything is printed.

Examples:
  barrow restore users-prod/PK=USER%23123/SK=PROFILE.json
  barrow restore --prior-state users-prod/PK=USER%23123/SK=PROFILE.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().BoolVar(&restorePriorOnly, "prior-state", false, "print only the archived prior state image")
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var signer *audit.DocumentSigner
	if cfg.Archiver.SignSecret != "" {
		signer = audit.NewDocumentSigner(cfg.Archiver.SignSecret)
	}

	doc, err := archive.NewWriter(store, signer).Fetch(ctx, args[0])
	if err != nil {
		return err
	}

	var out any = doc
	if restorePriorOnly {
		out = doc.PriorState
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
