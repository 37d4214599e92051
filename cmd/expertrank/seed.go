package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	service "github.com/okian/expertrank/internal/app"
)

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load subjects, experts and candidates from a YAML fixture",
		Long: `Seed loads a YAML fixture through the service so every document goes
through the same trigger path as live traffic. Scores are computed before
the command returns.

	Example:
	  expertrank seed -f fixtures/boards.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			f, err := loadFixture(file)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return opts.withService(ctx, func(svc *service.Service) error {
				for _, s := range f.Subjects {
					if _, err := svc.CreateSubject(ctx, s); err != nil {
						return fmt.Errorf("subject %s: %w", s.ID, err)
					}
				}
				for _, e := range f.Experts {
					if _, err := svc.CreateExpert(ctx, e); err != nil {
						return fmt.Errorf("expert %s: %w", e.ID, err)
					}
				}
				for _, c := range f.Candidates {
					if _, err := svc.RegisterCandidate(ctx, c); err != nil {
						return fmt.Errorf("candidate %s: %w", c.ID, err)
					}
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "seeded %d subjects, %d experts, %d candidates\n",
					len(f.Subjects), len(f.Experts), len(f.Candidates))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file (required)")
	return cmd
}
