package main

import (
	"fmt"
	"os"

	"web_relay/internal/ledger"
	"web_relay/internal/logger"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func ledgerCommand() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show how many files were delivered and the latest deliveries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			sent, err := ledger.Open(ctx, cfg.Ledger, logger.NewNop())
			if err != nil {
				return err
			}
			defer sent.Close(ctx)

			fmt.Printf("%d files delivered (%s backend)\n", sent.Len(), cfg.Ledger.Backend)

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			rows := 0

			switch store := sent.(type) {
			case *ledger.MongoStore:
				records, err := store.Recent(ctx, recent)
				if err != nil {
					return err
				}
				t.AppendHeader(table.Row{"Delivered", "Mode", "File", "URL"})
				for _, r := range records {
					t.AppendRow(table.Row{r.DeliveredAt.Local().Format("2006-01-02 15:04"), r.Mode, r.FileName, r.URL})
					rows++
				}
			case *ledger.JSONStore:
				// The file only keeps fingerprints.
				t.AppendHeader(table.Row{"Fingerprint"})
				for i, fp := range store.Fingerprints() {
					if i == recent {
						break
					}
					t.AppendRow(table.Row{fp})
					rows++
				}
			}
			if rows > 0 {
				t.Render()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 20, "number of entries to list")
	return cmd
}
