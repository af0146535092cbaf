package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/akaunkita/finledger/internal/reconcile"
)

type matchOptions struct {
	statement string
	ledger    string
	threshold float64
	floor     float64
}

func newReconcileCommand(env *Env, flags *globalFlags) *cobra.Command {
	rec := &cobra.Command{
		Use:   "reconcile",
		Short: "Bank reconciliation helpers",
	}
	rec.AddCommand(newMatchCommand(flags), newExportCommand(env, flags))
	return rec
}

func newMatchCommand(flags *globalFlags) *cobra.Command {
	opts := matchOptions{}
	defaults := reconcile.NewGreedyMatcher()
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match a bank statement against a ledger export without touching the database",
		Long: `Both files use the statement layout: a header naming id, date, amount
and description columns. CSV and XLSX are accepted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := readStatement(opts.statement)
			if err != nil {
				return fmt.Errorf("statement: %w", err)
			}
			book, err := readStatement(opts.ledger)
			if err != nil {
				return fmt.Errorf("ledger: %w", err)
			}
			internal := make([]reconcile.InternalTransaction, 0, len(book))
			for _, b := range book {
				internal = append(internal, reconcile.InternalTransaction{
					ID:          b.ID,
					Date:        b.Date,
					Amount:      b.Amount.Abs(),
					Description: b.Description,
				})
			}
			matcher := defaults
			matcher.AutoThreshold = opts.threshold
			matcher.SuggestionFloor = opts.floor
			if matcher.SuggestionFloor >= matcher.AutoThreshold {
				return fmt.Errorf("--floor %.2f must be below --threshold %.2f", opts.floor, opts.threshold)
			}
			return flags.print(cmd.OutOrStdout(), matcher.Match(bank, internal))
		},
	}
	cmd.Flags().StringVar(&opts.statement, "statement", "", "bank statement file (.csv or .xlsx)")
	cmd.Flags().StringVar(&opts.ledger, "ledger", "", "ledger movements file (.csv or .xlsx)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", defaults.AutoThreshold, "score a pair must exceed to match")
	cmd.Flags().Float64Var(&opts.floor, "floor", defaults.SuggestionFloor, "score a pair must exceed to be suggested")
	_ = cmd.MarkFlagRequired("statement")
	_ = cmd.MarkFlagRequired("ledger")
	return cmd
}

func readStatement(path string) ([]reconcile.BankTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return reconcile.ParseStatementXLSX(f)
	}
	return reconcile.ParseStatementCSV(f)
}

func newExportCommand(env *Env, flags *globalFlags) *cobra.Command {
	var sessionID, format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a reconciliation session as XLSX or PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := flags.actor()
			if err != nil {
				return err
			}
			id, err := uuid.Parse(sessionID)
			if err != nil {
				return fmt.Errorf("--session: %w", err)
			}
			render := reconcile.ExportXLSX
			switch strings.ToLower(format) {
			case "xlsx":
			case "pdf":
				render = reconcile.ExportPDF
			default:
				return fmt.Errorf("unsupported format %q (xlsx or pdf)", format)
			}

			ctx, cancel := flags.context(cmd)
			defer cancel()
			svc, err := env.services(ctx)
			if err != nil {
				return err
			}
			session, err := svc.Reconcile.GetSession(ctx, actor, id)
			if err != nil {
				return err
			}
			data, err := render(session)
			if err != nil {
				return err
			}
			if out != "" && out != "-" {
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", out, len(data))
				return nil
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "reconciliation session id")
	cmd.Flags().StringVar(&format, "format", "xlsx", "xlsx or pdf")
	cmd.Flags().StringVar(&out, "out", "", "output file (stdout when empty)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
