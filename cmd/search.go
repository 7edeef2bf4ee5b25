package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dealflow/internal/model"
)

var searchKind string

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search for candidate entities",
	Long:  "Resolves a free-text query into ranked candidate entities. Candidates are not persisted; use verify to promote one.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := model.ParseKind(searchKind)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Source == nil {
			return eris.New("perplexity key is required for search (DEALFLOW_PERPLEXITY_KEY)")
		}

		candidates, err := env.Source.Search(ctx, strings.Join(args, " "), kind)
		if err != nil {
			return eris.Wrap(err, "search")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(candidates)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchKind, "kind", "company", "entity kind (health_system, company, co_investor)")
	rootCmd.AddCommand(searchCmd)
}
