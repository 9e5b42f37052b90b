package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/playbook-resource/pkg/playbook"
	"github.com/openfroyo/playbook-resource/pkg/policy"
	"github.com/openfroyo/playbook-resource/pkg/resource"
	"github.com/openfroyo/playbook-resource/pkg/stores"
)

func newOutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "out <build-dir>",
		Short: "Run a playbook (put)",
		Long: `Reads {"source": ..., "params": ...} on stdin, runs the playbook found
under the build directory and writes {"version": ..., "metadata": [...]} on
stdout. The exit status is the run's status code: 2 when a host failed,
3 when a host was unreachable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			ctx := cmd.Context()

			var req resource.OutRequest
			if err := resource.ReadRequest(cmd.InOrStdin(), &req); err != nil {
				return err
			}

			var opts []playbook.Option
			if path := a.settings.History.Path; path != "" {
				store, err := stores.Open(ctx, path)
				if err != nil {
					return fmt.Errorf("cannot open run history: %w", err)
				}
				defer store.Close()
				opts = append(opts, playbook.WithHistory(store))
			}

			if a.settings.Policy.Enabled() {
				guard, err := policy.NewEngine(ctx, a.tel.Logger, a.settings.Policy.Builtins)
				if err != nil {
					return err
				}
				if err := guard.LoadPolicies(ctx, a.settings.Policy.Paths); err != nil {
					return err
				}
				opts = append(opts, playbook.WithPolicy(guard))
			}

			runner := playbook.NewRunner(a.settings, a.tel, cmd.ErrOrStderr(), opts...)
			resp, code, err := runner.Out(ctx, args[0], &req)
			if err != nil {
				return err
			}

			if err := resource.WriteResponse(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
}
