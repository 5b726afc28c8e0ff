package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/fedstream/pkg/connector/sources"
)

func newInspectCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Open every configured source and print its schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, sc := range cfg.Sources {
				src, err := sources.New(cmd.Context(), sc, cfg.BatchSize)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s (%s) %s\n", src.Name(), src.Kind(), src.Location())
				fmt.Fprintf(out, "  batch size: %d\n", sc.EffectiveBatchSize(cfg.BatchSize))
				fmt.Fprintf(out, "  schema:     %s\n", src.Schema())
				if err := src.Close(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to the streamer YAML configuration (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
