package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/playbook-resource/pkg/playbook"
	"github.com/openfroyo/playbook-resource/pkg/resource"
)

func newInCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "in <dest-dir>",
		Short: "Echo the requested version (get)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}

			var req resource.InRequest
			if err := resource.ReadRequest(cmd.InOrStdin(), &req); err != nil {
				return err
			}
			a.tel.Logger.WithField("version", req.Version.Timestamp).Debug("get after put")
			return resource.WriteResponse(cmd.OutOrStdout(), playbook.In(&req))
		},
	}
}
