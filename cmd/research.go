package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/research"
	"github.com/sells-group/dealflow/internal/store"
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Run and inspect background research jobs",
}

var (
	researchRunMax    int
	researchRunKind   string
	researchRunEntity string
)

var researchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of queued research jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var filter research.Filter
		if researchRunKind != "" {
			kind, err := model.ParseKind(researchRunKind)
			if err != nil {
				return err
			}
			filter.EntityKind = kind
		}
		filter.EntityID = researchRunEntity

		maxJobs := researchRunMax
		if maxJobs == 0 {
			maxJobs = cfg.Research.BatchSize
		}

		report, err := env.Runner.RunQueued(ctx, maxJobs, filter)
		if err != nil {
			return eris.Wrap(err, "research run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var (
	researchJobsKind   string
	researchJobsEntity string
	researchJobsStatus string
	researchJobsLimit  int
)

var researchJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List research jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if researchJobsEntity != "" && researchJobsKind == "" && researchJobsStatus == "" {
			jobs, err := env.Queue.History(ctx, researchJobsEntity, researchJobsLimit)
			if err != nil {
				return eris.Wrap(err, "job history")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		}

		filter := store.JobFilter{
			EntityID: researchJobsEntity,
			Limit:    researchJobsLimit,
		}
		if researchJobsKind != "" {
			kind, err := model.ParseKind(researchJobsKind)
			if err != nil {
				return err
			}
			filter.EntityKind = kind
		}
		if researchJobsStatus != "" {
			filter.Status = model.JobStatus(researchJobsStatus)
		}

		jobs, err := env.Store.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	},
}

func init() {
	researchRunCmd.Flags().IntVar(&researchRunMax, "max", 0, "max jobs in the batch (default from config)")
	researchRunCmd.Flags().StringVar(&researchRunKind, "kind", "", "only run jobs for this entity kind")
	researchRunCmd.Flags().StringVar(&researchRunEntity, "entity", "", "only run jobs for this entity ID")

	researchJobsCmd.Flags().StringVar(&researchJobsKind, "kind", "", "filter by entity kind")
	researchJobsCmd.Flags().StringVar(&researchJobsEntity, "entity", "", "filter by entity ID")
	researchJobsCmd.Flags().StringVar(&researchJobsStatus, "status", "", "filter by job status (queued, running, succeeded, failed)")
	researchJobsCmd.Flags().IntVar(&researchJobsLimit, "limit", 50, "max jobs to list")

	researchCmd.AddCommand(researchRunCmd)
	researchCmd.AddCommand(researchJobsCmd)
	rootCmd.AddCommand(researchCmd)
}
