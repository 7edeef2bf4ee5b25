package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/pipeline"
)

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Get or set a company's pipeline phase",
}

var phaseGetCmd = &cobra.Command{
	Use:   "get <company-id>",
	Short: "Show a company's effective phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		phase, err := pipeline.GetPhase(ctx, env.Store, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s\t%s\t%s\n", args[0], phase, pipeline.Column(phase))
		return nil
	},
}

var phaseSetCmd = &cobra.Command{
	Use:   "set <company-id> <phase>",
	Short: "Move a company to a phase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		phase, err := model.ParsePhase(args[1])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := pipeline.SetPhase(ctx, env.Store, args[0], phase); err != nil {
			return err
		}

		fmt.Printf("%s -> %s\n", args[0], phase)
		return nil
	},
}

func init() {
	phaseCmd.AddCommand(phaseGetCmd)
	phaseCmd.AddCommand(phaseSetCmd)
	rootCmd.AddCommand(phaseCmd)
}
