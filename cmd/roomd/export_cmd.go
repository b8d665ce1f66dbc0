package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/roomd"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/svcfields"
)

func newExportCommand(baseLogger pslog.Logger) *cobra.Command {
	var filter storage.BookingFilter
	var status string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upload the booking ledger as NDJSON to an S3-compatible bucket",
		Example: `
  # Export every cancelled booking from postgres to a local MinIO
  roomd export --store postgres://roomd@localhost/roomd \
    --export-endpoint http://localhost:9000 --export-bucket ledger --status CANCELLED
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			logger := svcfields.WithSubsystem(baseLogger, "cli.export")
			if _, err := loadConfigFile(); err != nil {
				return err
			}
			var cfg roomd.Config
			if err := bindConfig(&cfg); err != nil {
				return err
			}
			if level, ok := pslog.ParseLevel(logLevelSetting()); ok {
				logger = logger.LogLevel(level)
			}
			if status = strings.ToUpper(strings.TrimSpace(status)); status != "" {
				filter.Status = storage.BookingStatus(status)
				if !filter.Status.Valid() {
					return fmt.Errorf("invalid status %q (want CONFIRMED or CANCELLED)", status)
				}
			}
			res, err := roomd.ExportLedger(cmd.Context(), cfg, filter, logger)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %s bookings (%s) to s3://%s/%s\n",
				humanize.Comma(int64(res.Count)), humanize.Bytes(uint64(res.Bytes)), res.Bucket, res.Key)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&filter.UserID, "user", "", "only export bookings owned by this user")
	flags.StringVar(&filter.RoomID, "room", "", "only export bookings for this room")
	flags.StringVar(&status, "status", "", "only export bookings with this status (CONFIRMED|CANCELLED)")
	flags.IntVar(&filter.Limit, "limit", 0, "maximum bookings to export (0 exports all)")
	return cmd
}
