package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/playbook-resource/pkg/playbook"
	"github.com/openfroyo/playbook-resource/pkg/resource"
)

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report new versions (always none)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}

			var req resource.CheckRequest
			if err := resource.ReadRequest(cmd.InOrStdin(), &req); err != nil {
				return err
			}
			return resource.WriteResponse(cmd.OutOrStdout(), playbook.Check(&req))
		},
	}
}
