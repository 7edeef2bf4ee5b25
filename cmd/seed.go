package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/pipeline"
	"github.com/sells-group/dealflow/internal/verify"
)

type seedFile struct {
	Entities []seedEntity `yaml:"entities"`
}

type seedEntity struct {
	Kind             string `yaml:"kind"`
	Name             string `yaml:"name"`
	LegalName        string `yaml:"legal_name"`
	Website          string `yaml:"website"`
	City             string `yaml:"city"`
	State            string `yaml:"state"`
	LeadSource       string `yaml:"lead_source"`
	IntakeStatus     string `yaml:"intake_status"`
	DeclineReason    string `yaml:"decline_reason"`
	IsAlliance       bool   `yaml:"alliance"`
	IsLimitedPartner bool   `yaml:"lp"`
	Phase            string `yaml:"phase"`
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load entities from a YAML fixture file",
	Long:  "Verifies each entity in the file through the normal promotion path. Duplicates are skipped, not errors. An optional phase field places a company on the board.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read seed file %s", args[0])
		}

		var file seedFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return eris.Wrap(err, "parse seed file")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var created, skipped int
		for _, se := range file.Entities {
			kind, err := model.ParseKind(se.Kind)
			if err != nil {
				return eris.Wrapf(err, "seed entry %q", se.Name)
			}

			cand := model.Candidate{
				Name:      se.Name,
				LegalName: se.LegalName,
				Website:   se.Website,
				City:      se.City,
				State:     se.State,
			}
			attrs := verify.Attributes{
				LeadSource:       se.LeadSource,
				IntakeStatus:     se.IntakeStatus,
				DeclineReason:    se.DeclineReason,
				IsAlliance:       se.IsAlliance,
				IsLimitedPartner: se.IsLimitedPartner,
			}

			entity, _, err := verify.VerifyAndQueue(ctx, env.Store, cand, kind, attrs)
			if err != nil {
				if eris.Is(err, verify.ErrDuplicateEntity) {
					zap.L().Info("seed entry already exists", zap.String("name", se.Name))
					skipped++
					continue
				}
				return eris.Wrapf(err, "seed entry %q", se.Name)
			}
			created++

			if se.Phase != "" {
				phase, err := model.ParsePhase(se.Phase)
				if err != nil {
					return eris.Wrapf(err, "seed entry %q", se.Name)
				}
				if err := pipeline.SetPhase(ctx, env.Store, entity.ID, phase); err != nil {
					return eris.Wrapf(err, "seed entry %q", se.Name)
				}
			}
		}

		zap.L().Info("seed complete",
			zap.Int("created", created),
			zap.Int("skipped", skipped),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
