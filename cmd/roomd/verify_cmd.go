package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/roomd"
	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/diagnostics/storagecheck"
	"pkt.systems/roomd/internal/svcfields"
)

func newVerifyCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run diagnostic checks",
	}
	cmd.AddCommand(newVerifyStoreCommand(baseLogger))
	return cmd
}

func newVerifyStoreCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:          "store",
		Short:        "Verify the inventory store and export bucket",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
# Verify a postgres store is reachable and fully provisioned
ROOMD_STORE=postgres://roomd@localhost/roomd roomd verify store

# Also check the ledger export bucket
roomd verify store --export-endpoint http://localhost:9000 --export-bucket ledger
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfigFile(); err != nil {
				return err
			}
			var cfg roomd.Config
			if err := bindConfig(&cfg); err != nil {
				return err
			}
			logger := svcfields.WithSubsystem(baseLogger, "cli.verify")
			res, err := storagecheck.VerifyStore(cmd.Context(), cfg, clock.Real{}, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Store: %s (%s)\n", redactStore(cfg.Store), res.Provider)
			fmt.Fprintf(out, "Rooms: %s\n", humanize.Comma(int64(res.Rooms)))
			if res.ExportBucket != "" {
				fmt.Fprintf(out, "Export: %s/%s\n", res.ExportEndpoint, res.ExportBucket)
				cred := res.Credentials
				accessKey := cred.AccessKey
				if accessKey == "" {
					accessKey = "(none)"
				}
				fmt.Fprintf(out, "AccessKey: %s (has_secret:%t source:%s)\n", accessKey, cred.HasSecret, cred.Source)
			}
			fmt.Fprintln(out)
			for _, check := range res.Checks {
				if check.Err == nil {
					fmt.Fprintf(out, "✔ %s\n", check.Name)
				} else {
					fmt.Fprintf(out, "✘ %s: %v\n", check.Name, check.Err)
				}
			}
			if res.Passed() {
				fmt.Fprintln(out, "Storage verification succeeded.")
				return nil
			}
			return fmt.Errorf("storage verification failed")
		},
	}
}

// redactStore hides the password of a DSN before printing it.
func redactStore(store string) string {
	at := strings.LastIndex(store, "@")
	scheme := strings.Index(store, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return store
	}
	creds := store[scheme+3 : at]
	if colon := strings.IndexByte(creds, ':'); colon >= 0 {
		creds = creds[:colon] + ":xxxxx"
	}
	return store[:scheme+3] + creds + store[at:]
}
