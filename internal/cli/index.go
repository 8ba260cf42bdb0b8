package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/indexer"
)

func newIndexCmd(a *app) *cobra.Command {
	var opts indexer.IndexOptions
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index live content into the vector store",
		Long: `Index every live item of the content directory, or a single item with --page-id.
--rebuild empties the vector store and the bookkeeping first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := initializeComponents(a.cfg, a.logger, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			summary, err := c.Indexer.IndexAll(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}
			WriteSummary(out(cmd), "index", summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ContentID, "page-id", "", "index a single page by id")
	cmd.Flags().BoolVar(&opts.Rebuild, "rebuild", false, "clear the index before indexing")
	cmd.Flags().StringSliceVar(&opts.PageTypes, "page-type", nil, "only index these content types (repeatable)")
	return cmd
}

func newSyncCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the index with the live content",
		Long: `Index new pages, re-index pages modified since they were last indexed and remove
pages that are no longer live. --force re-indexes every live page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := initializeComponents(a.cfg, a.logger, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			summary, err := c.Indexer.Sync(cmd.Context(), force)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			WriteSummary(out(cmd), "sync", summary)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-index every live page")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	var (
		id    string
		all   bool
		purge bool
	)
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove pages from the index",
		Long: `Remove one page (--page-id) or every page (--all) from the vector store. Bookkeeping
rows are kept as inactive unless --purge is given for a single page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case id == "" && !all:
				return errors.New("either --page-id or --all is required")
			case id != "" && all:
				return errors.New("--page-id and --all are mutually exclusive")
			case purge && all:
				return errors.New("--purge requires --page-id")
			}

			c, err := initializeComponents(a.cfg, a.logger, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			if all {
				summary, err := c.Indexer.RemoveAll(ctx)
				if err != nil {
					return fmt.Errorf("remove failed: %w", err)
				}
				WriteSummary(out(cmd), "remove", summary)
				return nil
			}
			if purge {
				err = c.Indexer.Purge(ctx, id)
			} else {
				err = c.Indexer.Remove(ctx, id)
			}
			if err != nil {
				return fmt.Errorf("remove failed: %w", err)
			}
			fmt.Fprintf(out(cmd), "removed: %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "page-id", "", "remove a single page by id")
	cmd.Flags().BoolVar(&all, "all", false, "remove every page")
	cmd.Flags().BoolVar(&purge, "purge", false, "also delete the bookkeeping row")
	return cmd
}
