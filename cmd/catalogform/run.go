package main

import (
	"errors"

	"github.com/spf13/cobra"

	catalogform "github.com/goliatone/go-catalogform"
	"github.com/goliatone/go-catalogform/internal/prompt"
	"github.com/goliatone/go-catalogform/pkg/session"
)

func registerRunCmd(parent *cobra.Command, a *app) {
	var attempts int
	cmd := &cobra.Command{
		Use:   "run <item> [version]",
		Short: "Fill a catalog item configuration interactively and submit it",
		Long: `Prompts for every field of the item's primary form. Choosing a value for the
trigger field loads the matching additional form, which is prompted next.
Fields that fail validation are prompted again before the job is submitted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := catalogform.OpenBackend(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			s, err := backend.NewSession(ctx, args[0], versionArg(args),
				session.WithLogger(a.logger.Named("session")),
			)
			if err != nil {
				return err
			}
			defer s.Close()

			driver := prompt.NewSurveyDriver(cmd.OutOrStdout())
			runner := prompt.NewRunner(s, driver,
				prompt.WithMaxAttempts(attempts),
				prompt.WithLogger(a.logger.Named("prompt")),
			)
			_, err = runner.Run(ctx)
			if errors.Is(err, prompt.ErrAborted) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 5, "maximum number of execute attempts")
	parent.AddCommand(cmd)
}
