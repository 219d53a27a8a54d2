package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/store"
)

const (
	stuckTurnMessage = "Error: the reply was abandoned by the worker. Please resend your message."
	stuckPDFMessage  = "Failed to parse PDF: parsing was abandoned, retry later"
)

var (
	turnsOlderThan time.Duration
	pdfsOlderThan  time.Duration
)

func init() {
	rootCmd.AddCommand(turnsCmd)
	turnsCmd.AddCommand(turnsFailStuckCmd)
	turnsFailStuckCmd.Flags().DurationVar(&turnsOlderThan, "older-than", 30*time.Minute, "fail turns sent before now minus this duration")

	rootCmd.AddCommand(pdfsCmd)
	pdfsCmd.AddCommand(pdfsFailStuckCmd)
	pdfsFailStuckCmd.Flags().DurationVar(&pdfsOlderThan, "older-than", 30*time.Minute, "fail documents whose status has not changed for this long")
}

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Maintain chat turns",
}

var turnsFailStuckCmd = &cobra.Command{
	Use:   "fail-stuck",
	Short: "Fail turns left PENDING or PROCESSING",
	Long: `Mark chat turns that never reached a terminal state as
FAILED_RETRIES_EXHAUSTED so clients stop polling them.

Examples:
  pdfchatctl turns fail-stuck --older-than 1h`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		_, err = failStuckTurns(cmd.Context(), cmd.OutOrStdout(), s.chats, time.Now(), turnsOlderThan)
		return err
	},
}

var pdfsCmd = &cobra.Command{
	Use:   "pdfs",
	Short: "Maintain PDF documents",
}

var pdfsFailStuckCmd = &cobra.Command{
	Use:   "fail-stuck",
	Short: "Fail documents left PARSING",
	Long: `Mark documents stuck in PARSING as PARSED_FAILURE so their owners can
request parsing again.

Examples:
  pdfchatctl pdfs fail-stuck --older-than 2h`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		_, err = failStuckPDFs(cmd.Context(), cmd.OutOrStdout(), s.pdfs, time.Now(), pdfsOlderThan)
		return err
	},
}

// failStuckTurns fails every unfinished turn sent before now-olderThan. A turn
// that changes state concurrently is left alone.
func failStuckTurns(ctx context.Context, out io.Writer, chats store.ChatStore, now time.Time, olderThan time.Duration) (int, error) {
	turns, err := chats.ListUnfinishedTurns(ctx, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list unfinished turns: %w", err)
	}
	failed := 0
	for _, turn := range turns {
		expected := turn.ReplyStatus
		next := turn
		if err := next.Fail(stuckTurnMessage, now); err != nil {
			continue
		}
		ok, err := chats.UpdateTurn(ctx, next, expected)
		if err != nil {
			return failed, fmt.Errorf("fail turn %d: %w", turn.ID, err)
		}
		if ok {
			failed++
		}
	}
	fmt.Fprintf(out, "failed %d of %d unfinished turns\n", failed, len(turns))
	return failed, nil
}

// failStuckPDFs fails every PARSING document untouched since now-olderThan.
func failStuckPDFs(ctx context.Context, out io.Writer, pdfs store.PDFStore, now time.Time, olderThan time.Duration) (int, error) {
	docs, err := pdfs.ListPDFsByStatus(ctx, domain.ParseParsing, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list parsing pdfs: %w", err)
	}
	failed := 0
	for _, doc := range docs {
		next := doc
		if err := next.MarkParseFailed(stuckPDFMessage); err != nil {
			continue
		}
		ok, err := pdfs.UpdatePDFStatus(ctx, next, domain.ParseParsing)
		if err != nil {
			return failed, fmt.Errorf("fail pdf %s: %w", doc.ID, err)
		}
		if ok {
			failed++
		}
	}
	fmt.Fprintf(out, "failed %d of %d parsing documents\n", failed, len(docs))
	return failed, nil
}
