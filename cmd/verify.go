package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/verify"
)

var (
	verifyKind         string
	verifyName         string
	verifyLegalName    string
	verifyWebsite      string
	verifyCity         string
	verifyState        string
	verifyLeadSource   string
	verifyIntakeStatus string
	verifyDecline      string
	verifyAlliance     bool
	verifyLP           bool
	verifyNoResearch   bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Promote a candidate into a tracked entity",
	Long:  "Verifies a candidate against existing entities, persists it, and queues its first research job. Research starts in the background unless --no-research is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := model.ParseKind(verifyKind)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cand := model.Candidate{
			Name:      verifyName,
			LegalName: verifyLegalName,
			Website:   verifyWebsite,
			City:      verifyCity,
			State:     verifyState,
		}
		attrs := verify.Attributes{
			LeadSource:       verifyLeadSource,
			IntakeStatus:     verifyIntakeStatus,
			DeclineReason:    verifyDecline,
			IsAlliance:       verifyAlliance,
			IsLimitedPartner: verifyLP,
		}

		entity, job, err := verify.VerifyAndQueue(ctx, env.Store, cand, kind, attrs)
		if err != nil {
			if eris.Is(err, verify.ErrDuplicateEntity) {
				return eris.Wrap(err, "verification rejected")
			}
			return err
		}

		if !verifyNoResearch {
			env.Runner.TriggerAsync(kind, entity.ID)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"entity": entity,
			"job":    job,
		})
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyKind, "kind", "company", "entity kind (health_system, company, co_investor)")
	verifyCmd.Flags().StringVar(&verifyName, "name", "", "entity name (required)")
	verifyCmd.Flags().StringVar(&verifyLegalName, "legal-name", "", "registered legal name")
	verifyCmd.Flags().StringVar(&verifyWebsite, "website", "", "website URL")
	verifyCmd.Flags().StringVar(&verifyCity, "city", "", "headquarters city")
	verifyCmd.Flags().StringVar(&verifyState, "state", "", "headquarters state")
	verifyCmd.Flags().StringVar(&verifyLeadSource, "lead-source", "", "how the company entered the pipeline")
	verifyCmd.Flags().StringVar(&verifyIntakeStatus, "intake-status", "", "initial intake status")
	verifyCmd.Flags().StringVar(&verifyDecline, "decline-reason", "", "reason the company was declined at intake")
	verifyCmd.Flags().BoolVar(&verifyAlliance, "alliance", false, "co-investor is an alliance member")
	verifyCmd.Flags().BoolVar(&verifyLP, "lp", false, "co-investor is a limited partner")
	verifyCmd.Flags().BoolVar(&verifyNoResearch, "no-research", false, "queue the job without starting background research")
	_ = verifyCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(verifyCmd)
}
