package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WildMix/Scribe/internal/repo"
)

type initOptions struct {
	Author string
	Role   string
}

func newInitCommand(root *RootOptions) *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty Scribe repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}

			r, err := repo.Init(path)
			if err != nil {
				return err
			}
			defer r.Close()

			if opts.Author != "" || opts.Role != "" {
				cfg, err := r.LoadConfig()
				if err != nil {
					return err
				}
				if opts.Author != "" {
					cfg.AuthorID = opts.Author
				}
				if opts.Role != "" {
					cfg.AuthorRole = opts.Role
				}
				if err := r.SaveConfig(cfg); err != nil {
					return err
				}
			}

			if !root.Quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized empty Scribe repository in %s\n", r.Root())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Author, "author", "", "default author ID for this repository")
	cmd.Flags().StringVar(&opts.Role, "role", "", "default author role for this repository")

	return cmd
}
