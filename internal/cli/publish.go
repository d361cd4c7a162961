package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vietddude/orderflow/internal/control"
	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/broker"
)

var publishCmd = &cobra.Command{
	Use:   "publish <payload>",
	Short: "Publish an order to the intake topic",
	Args:  cobra.ExactArgs(1),
	Run:   runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	app, err := control.NewAppWith(cfg, control.Components{})
	if err != nil {
		slog.Error("Failed to initialize broker", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if cfg.Broker.Type == broker.TypeMemory {
		slog.Warn("In-memory broker selected; the order is not visible to other processes")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := domain.NewMessage("", []byte(args[0])).WithHeader(domain.HeaderMessageID, uuid.NewString())
	if err := app.Broker().Publish(ctx, cfg.Topics.Intake, msg); err != nil {
		slog.Error("Failed to publish order", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Order created and published to %s topic: %s\n", cfg.Topics.Intake, args[0])
}
