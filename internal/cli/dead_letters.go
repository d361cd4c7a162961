package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/orderflow/internal/control"
)

var deadLetterLimit int

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List the most recent dead-lettered orders",
	Run:   runDeadLetters,
}

func init() {
	deadLettersCmd.Flags().IntVar(&deadLetterLimit, "limit", 20, "number of records to show")
	rootCmd.AddCommand(deadLettersCmd)
}

func runDeadLetters(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	app, err := control.NewAppWith(cfg, control.Components{})
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := app.DeadLetters().List(ctx, deadLetterLimit)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tMESSAGE ID\tATTEMPTS\tCREATED\tREASON\tPAYLOAD")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.MessageID, r.Attempts, r.CreatedAt.Format(time.RFC3339), r.Reason, string(r.Payload))
	}
	_ = w.Flush()
}
