package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Gammanik/model-uploader/internal/hasher"
)

func init() {
	rootCmd.AddCommand(hashCmd)
}

var hashCmd = &cobra.Command{
	Use:   "hash <file>",
	Short: "Print the SHA-256 content digest of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, closeFn, err := hasher.OpenFile(args[0])
		if err != nil {
			return err
		}
		defer closeFn()

		digest, err := hasher.New(cfg.HashWindow).Hash(cmd.Context(), src)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", digest, args[0])
		return nil
	},
}
