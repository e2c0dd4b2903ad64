// Command server runs the ticket admission service: the waiting-room API,
// the activation and expiration workers, and the reservation command
// consumer.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	seedSession uint64
	seedSeats   int
	seedPrice   string

	tokenUser uint64
	tokenRole string
	tokenTTL  time.Duration

	rootCmd = &cobra.Command{
		Use:           "server",
		Short:         "Ticket admission queue and seat reservation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the queue activator, the sweeper and the command consumer",
		RunE:  runServe, // Defined in serve.go
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the MySQL schema",
		RunE:  runMigrate, // Defined in migrate.go
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint an access token signed with JWT_SECRET for local testing",
		RunE:  runToken, // Defined in migrate.go
	}
)

func init() {
	serveCmd.Flags().Uint64Var(&seedSession, "seed-session", 0, "create seats for this session id on startup")
	serveCmd.Flags().IntVar(&seedSeats, "seed-seats", 100, "number of seats to create with --seed-session")
	serveCmd.Flags().StringVar(&seedPrice, "seed-price", "50000", "price of each seeded seat")

	tokenCmd.Flags().Uint64Var(&tokenUser, "user", 0, "user id to put in the subject claim")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "CUSTOMER", "role claim (CUSTOMER or ADMIN)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
