package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aidosq/kolesa-ingest/internal/fetch"
	"github.com/aidosq/kolesa-ingest/internal/scan"
)

// newListingCmd creates the 'listing' subcommand, a smoke tool that fetches
// one listing outside the queue flow and prints the extracted record.
func newListingCmd() *cobra.Command {
	var (
		persist    bool
		archiveRaw bool
	)
	cmd := &cobra.Command{
		Use:   "listing <id>",
		Short: "Fetch and extract a single listing by id",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			listingID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || listingID <= 0 {
				return fmt.Errorf("invalid listing id %q", args[0])
			}

			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			url := scan.ListingURL(a.Config().Site.BaseURL, listingID)
			rec, err := a.Pool().FetchOne(cmd.Context(), listingID, url, fetch.FetchOptions{
				Persist:    persist,
				ArchiveRaw: archiveRaw,
			})
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "listing %d is gone (404)\n", listingID)
				return nil
			}

			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "write the record to the warehouse")
	cmd.Flags().BoolVar(&archiveRaw, "archive", false, "archive the raw HTML")
	return cmd
}
