package main

import (
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	service "github.com/okian/expertrank/internal/app"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every expert and candidate score from stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				rep, err := svc.Reconcile(cmd.Context())
				if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(rep); encErr != nil && err == nil {
					err = encErr
				}
				return err
			})
		},
	}
}
