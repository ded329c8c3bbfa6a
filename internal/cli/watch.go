package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feichai0017/casefolio/config"
	"github.com/feichai0017/casefolio/internal/notify"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow job events published by the workers",
	Long: `Watch joins a Kafka consumer group on the job event topic and prints one
line per stage transition until interrupted. Brokers come from KAFKA_BROKERS.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("group", "casefolio-watch", "consumer group id")
	watchCmd.Flags().String("case-id", "", "only print events for this case")
	watchCmd.Flags().Bool("json", false, "print raw events as JSON")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg := config.GetKafkaConfig()
	if len(cfg.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is not set")
	}
	group, _ := cmd.Flags().GetString("group")
	caseID, _ := cmd.Flags().GetString("case-id")
	asJSON, _ := cmd.Flags().GetBool("json")

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	sub, err := notify.NewSubscriber(*cfg, group, log)
	if err != nil {
		return err
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	return sub.Run(ctx, func(_ context.Context, event notify.JobEvent) error {
		if caseID != "" && event.CaseID != caseID {
			return nil
		}
		if asJSON {
			return writeJSON(out, event)
		}
		_, err := fmt.Fprintln(out, formatEvent(event))
		return err
	})
}

func formatEvent(e notify.JobEvent) string {
	line := fmt.Sprintf("%s  %-10s %-16s case=%s job=%s %d/%d %s",
		e.Timestamp.Format("15:04:05"), e.Stage, e.Kind, e.CaseID, e.JobID, e.Progress.Current, e.Progress.Total, e.Progress.Status)
	if e.Error != nil {
		line += fmt.Sprintf(" error=%s: %s", e.Error.Kind, e.Error.Message)
	}
	return line
}
