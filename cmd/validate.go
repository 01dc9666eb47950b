package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate <session-id>",
	Short: "Answer a pending document confirmation",
	Long: `Resolves a validation session created when the documentation search was
not confident enough to proceed on its own. A confirmed document is
remembered and reused for future questions about the same equipment.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		confirm, _ := cmd.Flags().GetBool("confirm")
		reject, _ := cmd.Flags().GetBool("reject")
		if confirm == reject {
			return eris.New("validate: pass exactly one of --confirm or --reject")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		gate := validation.NewGate(st, cfg.Validation.Window())
		sess, err := gate.Submit(ctx, args[0], confirm)
		if err != nil {
			return err
		}

		fmt.Printf("session %s is now %s\n", sess.ID, sess.State)
		return nil
	},
}

func init() {
	validateCmd.Flags().Bool("confirm", false, "the suggested document is correct")
	validateCmd.Flags().Bool("reject", false, "the suggested document is wrong")
	rootCmd.AddCommand(validateCmd)
}
