package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDebugCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Show backend availability, index statistics and effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			c, err := initializeComponents(a.cfg, a.logger, nil)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.attachAssistant(a.cfg, a.logger, true); err != nil {
				return err
			}

			ctx := cmd.Context()
			stats, err := c.Indexer.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to read index stats: %w", err)
			}
			d := &Diagnostics{
				Backends: c.Orchestrator.Health(ctx),
				Index:    stats,
				Config:   a.diagnosticsConfig(),
			}
			return WriteDiagnostics(out(cmd), d, format)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", string(OutputText), "output format: text or json")
	return cmd
}

func (a *app) diagnosticsConfig() DiagnosticsConfig {
	cfg := a.cfg
	return DiagnosticsConfig{
		Embedder:         cfg.Embedder.Backend,
		EmbedderModel:    cfg.Embedder.Model,
		Dimensions:       cfg.Embedder.Dimensions,
		VectorDB:         cfg.VectorDB.Backend,
		Collection:       cfg.VectorDB.Collection,
		LLM:              cfg.LLM.Backend,
		LLMModel:         cfg.LLM.Model,
		TopK:             cfg.Retrieval.TopK,
		ChunkSize:        cfg.Retrieval.ChunkSize,
		ChunkOverlap:     cfg.Retrieval.OverlapOrDefault(),
		PageTypes:        cfg.Retrieval.PageTypes,
		AssistantEnabled: cfg.Assistant.EnabledOrDefault(),
		DatabasePath:     cfg.Storage.DatabasePath,
		ContentDirectory: cfg.Content.Directory,
	}
}
