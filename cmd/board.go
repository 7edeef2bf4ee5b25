package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dealflow/internal/pipeline"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Print the pipeline board",
	Long:  "Projects all companies into board columns. Companies without an explicit phase appear under their inferred default.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		board, err := pipeline.BuildBoard(ctx, env.Store)
		if err != nil {
			return eris.Wrap(err, "build board")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, col := range pipeline.Columns {
			cards := board.Columns[col]
			fmt.Fprintf(w, "%s (%d)\n", col, len(cards))
			for _, card := range cards {
				marker := ""
				if card.Inferred {
					marker = " (inferred)"
				}
				fmt.Fprintf(w, "  %s\t%s\t%s%s\n", card.CompanyID, card.Name, card.Phase, marker)
			}
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(boardCmd)
}
