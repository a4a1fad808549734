package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yoshihiko555/takt/internal/piece"
)

func newPiecesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pieces",
		Short: "Inspect available pieces",
	}
	cmd.AddCommand(newPiecesListCmd())
	cmd.AddCommand(newPiecesShowCmd())
	return cmd
}

func newPiecesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in pieces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range piece.ListBuiltin() {
				cmd.Println(name)
			}
			return nil
		},
	}
}

func newPiecesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a piece's resolved structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			p, err := a.loadPiece(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s — %s\n", p.Name, p.Description)
			cmd.Printf("max movements: %d, initial: %s\n\n", p.MaxMovements, p.InitialMovement)
			for i, m := range p.Movements {
				cmd.Printf("%d. %s (%s)\n", i+1, m.Name, m.Kind())
				for _, r := range m.Rules {
					cond := r.Condition
					if r.IsAI() {
						cond = "[ai] " + r.AICondition
					}
					cmd.Printf("   %d) %s -> %s\n", r.Ordinal, cond, r.Next)
				}
			}
			return nil
		},
	}
}
