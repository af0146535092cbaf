package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/pos"
)

func newPOSCommand(env *Env, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pos",
		Short: "POS ingestion and daily posting",
	}
	cmd.AddCommand(newPostDailyCommand(env, flags), newSyncCommand(env, flags))
	return cmd
}

func newPostDailyCommand(env *Env, flags *globalFlags) *cobra.Command {
	var date, store string
	var draft bool
	cmd := &cobra.Command{
		Use:   "post-daily",
		Short: "Post one business day of normalized POS records to the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := flags.actor()
			if err != nil {
				return err
			}
			day, err := time.Parse(time.DateOnly, date)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			in := pos.PostDailyInput{BusinessDate: day, Status: ledger.StatusPosted}
			if draft {
				in.Status = ledger.StatusDraft
			}
			if store != "" {
				id, err := uuid.Parse(store)
				if err != nil {
					return fmt.Errorf("--store: %w", err)
				}
				in.StoreLocationID = &id
			}

			ctx, cancel := flags.context(cmd)
			defer cancel()
			svc, err := env.services(ctx)
			if err != nil {
				return err
			}
			res, err := svc.POSPoster.PostDaily(ctx, actor, in)
			if err != nil {
				return err
			}
			return flags.print(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "business date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&store, "store", "", "restrict to one store location id")
	cmd.Flags().BoolVar(&draft, "draft", false, "create the entry as a draft")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newSyncCommand(env *Env, flags *globalFlags) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Queue a POS sync for the company",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := flags.actor()
			if err != nil {
				return err
			}
			q, err := env.queue()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			info, err := q.TriggerSync(ctx, actor.CompanyID, full)
			if err != nil {
				return err
			}
			return flags.print(cmd.OutOrStdout(), taskSummary(info))
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "ignore the sync cursor and refetch everything")
	return cmd
}
