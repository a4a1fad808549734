package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/facet"
)

func newEjectCmd() *cobra.Command {
	var toUser bool

	cmd := &cobra.Command{
		Use:   "eject <type> <name>",
		Short: "Copy a built-in facet or piece into the project for customization",
		Long: `Eject copies a built-in facet (persona, policy, knowledge, instruction,
output_contract) or a built-in piece into the project layer (or the user
layer with --user) so it can be edited. Existing files are never
overwritten.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			layer := facet.LayerProject
			if toUser {
				layer = facet.LayerUser
			}

			kind, name := args[0], args[1]
			var path string
			if kind == "piece" {
				path, err = a.pieces.Eject(name, layer)
			} else {
				facetType, ok := parseFacetType(kind)
				if !ok {
					return fmt.Errorf("unknown eject type %q", kind)
				}
				path, err = a.facets.Eject(facetType, name, layer)
			}
			if err != nil {
				return err
			}
			cmd.Printf("ejected to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&toUser, "user", false, "eject into the user layer instead of the project")
	return cmd
}

func parseFacetType(s string) (core.FacetType, bool) {
	for _, t := range core.FacetTypes() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}
