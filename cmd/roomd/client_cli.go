package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/pslog"
	"pkt.systems/roomd/api"
	roomdclient "pkt.systems/roomd/client"
	"pkt.systems/roomd/internal/svcfields"
)

const (
	clientServerKey  = "client.server"
	clientUserKey    = "client.user"
	clientTimeoutKey = "client.timeout"
	clientRetriesKey = "client.retries"
	clientOutputKey  = "client.output"

	envCorrelation = "ROOMD_CLIENT_CORRELATION_ID"

	defaultClientServer  = "http://127.0.0.1:9341"
	defaultClientTimeout = 30 * time.Second
)

type clientCLIConfig struct {
	logger  pslog.Logger
	verbose *bool
}

func newClientCommand(baseLogger pslog.Logger) *cobra.Command {
	var verbose bool
	cfg := &clientCLIConfig{logger: baseLogger, verbose: &verbose}
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Interact with a running roomd server",
	}

	flags := cmd.PersistentFlags()
	flags.StringP("server", "s", defaultClientServer, "roomd server base URL")
	flags.StringP("user", "u", "", "requester id sent as "+api.HeaderUser)
	flags.Duration("timeout", defaultClientTimeout, "HTTP client timeout")
	flags.Int("retries", roomdclient.DefaultFailureRetries, "retries for throttled or lock_wait_timeout responses (0 disables)")
	flags.StringP("output", "o", "text", "output format (text|json)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose (trace) client logging")

	mustBindFlag(clientServerKey, "ROOMD_CLIENT_SERVER", flags.Lookup("server"))
	mustBindFlag(clientUserKey, "ROOMD_CLIENT_USER", flags.Lookup("user"))
	mustBindFlag(clientTimeoutKey, "ROOMD_CLIENT_TIMEOUT", flags.Lookup("timeout"))
	mustBindFlag(clientRetriesKey, "ROOMD_CLIENT_RETRIES", flags.Lookup("retries"))
	mustBindFlag(clientOutputKey, "ROOMD_CLIENT_OUTPUT", flags.Lookup("output"))

	cmd.AddCommand(
		newClientReserveCommand(cfg),
		newClientCancelCommand(cfg),
		newClientBookingsCommand(cfg),
		newClientBookingCommand(cfg),
		newClientSearchCommand(cfg),
		newClientRoomCommand(cfg),
		newClientCreateRoomCommand(cfg),
		newClientHealthCommand(cfg),
	)
	return cmd
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func (c *clientCLIConfig) client() (*roomdclient.Client, error) {
	opts := []roomdclient.Option{
		roomdclient.WithUser(viper.GetString(clientUserKey)),
		roomdclient.WithHTTPTimeout(viper.GetDuration(clientTimeoutKey)),
		roomdclient.WithFailureRetries(viper.GetInt(clientRetriesKey)),
	}
	if c.verbose != nil && *c.verbose {
		logger := svcfields.WithSubsystem(c.logger, "cli.client").LogLevel(pslog.TraceLevel)
		opts = append(opts, roomdclient.WithLogger(logger))
	}
	return roomdclient.New(viper.GetString(clientServerKey), opts...)
}

func (c *clientCLIConfig) jsonOutput() (bool, error) {
	switch format := strings.ToLower(strings.TrimSpace(viper.GetString(clientOutputKey))); format {
	case "", "text":
		return false, nil
	case "json":
		return true, nil
	default:
		return false, fmt.Errorf("unsupported output format %q (want text or json)", format)
	}
}

func resolveCorrelationID() string {
	if env := strings.TrimSpace(os.Getenv(envCorrelation)); env != "" {
		if normalized, ok := roomdclient.NormalizeCorrelationID(env); ok {
			return normalized
		}
	}
	return roomdclient.GenerateCorrelationID()
}

func commandContextWithCorrelation(cmd *cobra.Command) (context.Context, string) {
	id := resolveCorrelationID()
	return roomdclient.WithCorrelationID(cmd.Context(), id), id
}

// runClient resolves the client and output format shared by every
// subcommand, then renders either fn's value as JSON or its text form.
func runClient(cmd *cobra.Command, cfg *clientCLIConfig, fn func(ctx context.Context, cli *roomdclient.Client) (any, func(io.Writer) error, error)) error {
	cmd.SilenceUsage = true
	asJSON, err := cfg.jsonOutput()
	if err != nil {
		return err
	}
	cli, err := cfg.client()
	if err != nil {
		return err
	}
	ctx, _ := commandContextWithCorrelation(cmd)
	value, text, err := fn(ctx, cli)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON || text == nil {
		return writeJSON(out, value)
	}
	return text(out)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeBooking(out io.Writer, b api.Booking) error {
	status := b.Status
	if b.CancelledAt != nil {
		status = fmt.Sprintf("%s %s", status, humanize.Time(*b.CancelledAt))
	}
	_, err := fmt.Fprintf(out, "%s\t%s\t%s..%s\t%s\t%s\tcreated %s\n",
		b.ID, b.RoomID, b.CheckIn, b.CheckOut, nightsLabel(b.Nights), status, humanize.Time(b.CreatedAt))
	return err
}

func nightsLabel(n int) string {
	if n == 1 {
		return "1 night"
	}
	return humanize.Comma(int64(n)) + " nights"
}

func writeRoom(out io.Writer, r api.Room) error {
	_, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s/night\tinventory %s\n",
		r.ID, r.Name, r.Location, r.Price, humanize.Comma(int64(r.TotalInventory)))
	return err
}

func newClientReserveCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve <room-id> <check-in> <check-out>",
		Short: "Reserve a room for [check-in, check-out), dates as YYYY-MM-DD",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, cfg, func(ctx context.Context, cli *roomdclient.Client) (any, func(io.Writer) error, error) {
				b, err := cli.Reserve(ctx, args[0], args[1], args[2])
				return b, func(out io.Writer) error { return writeBooking(out, b) }, err
			})
		},
	}
}

func newClientCancelCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <booking-id>",
		Short: "Cancel one of your bookings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, cfg, func(ctx context.Context, cli *roomdclient.Client) (any, func(io.Writer) error, error) {
				b, err := cli.Cancel(ctx, args[0])
				return b, func(out io.Writer) error { return writeBooking(out, b) }, err
			})
		},
	}
}

func newClientBookingsCommand(cfg *clientCLIConfig) *cobra.Command {
	var opts roomdclient.BookingsOptions
	cmd := &cobra.Command{
		Use:     "bookings",
		Aliases: []string{"ls"},
		Short:   "List your bookings, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, cfg, func(ctx context.Context, cli *roomdclient.Client) (any, func(io.Writer) error, error) {
				bookings, err := cli.Bookings(ctx, opts)
				text := func(out io.Writer) error {
					for _, b := range bookings {
						if err := writeBooking(out, b); err != nil {
							return err
						}
					}
					return nil
				}
				return api.ListBookingsResponse{Bookings: bookings}, text, err
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (CONFIRMED|CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum bookings to return (0 uses the server default)")
	return cmd
}

func newClientBookingCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "booking <booking-id>",
		Short: "Show one of your bookings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, cfg, func(ctx context.Context, cli *roomdclient.Client) (any, func(io.Writer) error, error) {
				b, err := cli.Booking(ctx, args[0])
				return b, func(out io.Writer) error { return writeBooking(out, b) }, err
			})
		},
	}
}

func newClientSearchCommand(cfg *clientCLIConfig) *cobra.Command {
	var checkIn, checkOut, location string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find rooms free on every night of a stay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, cfg, func(ctx context.Context, cli *roomdclient.Client) (any, func(io.Writer) error, error) {
				res, err := cli.Search(ctx, checkIn, checkOut, location)
				text := func(out io.Writer) error {
					if len(res.Rooms) == 0 {
						_, err := fmt.Fprintln(out, "no rooms available")
						return err
					}
					for _, r := range res.Rooms {
						if _, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s/night\t%s left\n",
							r.ID, r.Name, r.Location, r.Price, humanize.Comma(int64(r.MinAvailable))); err != nil {
							return err
						}
					}
					return nil
				}
				return res, text, err
			})
		},
	}
	cmd.Flags().StringVar(&checkIn, "check-in", "", "first night (YYYY-MM-DD)")
	cmd.Flags().StringVar(&checkOut, "check-out", "", "departure day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&location, "location", "", "case-insensitive location substring")
	_ = cmd.MarkFlagRequired("check-in")
	_ = cmd.MarkFlagRequired("check-out")
	return cmd
}

func newClientRoomCommand(cfg *clientCLIConfig) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "room <room-id>",
		Short: "Show a room and optionally its daily availability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, cfg, func(ctx context.Context, cli *roomdclient.Client) (any, func(io.Writer) error, error) {
				res, err := cli.Room(ctx, args[0], from, to)
				text := func(out io.Writer) error {
					if err := writeRoom(out, res.Room); err != nil {
						return err
					}
					for _, d := range res.Days {
						if _, err := fmt.Fprintf(out, "  %s\t%s\n", d.Date, humanize.Comma(int64(d.Available))); err != nil {
							return err
						}
					}
					return nil
				}
				return res, text, err
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date of the availability window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end of the availability window, exclusive (YYYY-MM-DD)")
	cmd.MarkFlagsRequiredTogether("from", "to")
	return cmd
}

func newClientCreateRoomCommand(cfg *clientCLIConfig) *cobra.Command {
	var req api.CreateRoomRequest
	cmd := &cobra.Command{
		Use:   "create-room",
		Short: "Create a room and provision its availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, cfg, func(ctx context.Context, cli *roomdclient.Client) (any, func(io.Writer) error, error) {
				room, err := cli.CreateRoom(ctx, req)
				return room, func(out io.Writer) error { return writeRoom(out, room) }, err
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.Name, "name", "", "room name")
	flags.StringVar(&req.Description, "description", "", "room description")
	flags.StringVar(&req.Price, "price", "", "nightly price, e.g. 129.50")
	flags.StringVar(&req.Location, "location", "", "room location")
	flags.IntVar(&req.TotalInventory, "inventory", 1, "number of identical units")
	flags.StringSliceVar(&req.Amenities, "amenity", nil, "amenity (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func newClientHealthCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, cfg, func(ctx context.Context, cli *roomdclient.Client) (any, func(io.Writer) error, error) {
				res, err := cli.Health(ctx)
				return res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "%s %s\n", res.Status, res.Version)
					return err
				}, err
			})
		},
	}
}
