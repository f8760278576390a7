package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	catalogform "github.com/goliatone/go-catalogform"
	"github.com/goliatone/go-catalogform/internal/bundle"
	"github.com/goliatone/go-catalogform/internal/catalogwatch"
)

func registerImportCmd(parent *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "import <bundle-dir>...",
		Short: "Import catalog bundles into the local store",
		Long: `Reads manifest.yaml, schema.json and the additional schemas named by
x-schema-map from each bundle directory and stores them under the manifest's
id and version. Re-importing a version replaces it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := catalogform.OpenStore(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			var errs []error
			for _, dir := range args {
				abs, err := filepath.Abs(dir)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				b, err := bundle.Load(os.DirFS(filepath.Dir(abs)), filepath.Base(abs))
				if err == nil {
					err = store.Import(ctx, b)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", dir, err))
					continue
				}
				printImported(cmd, b)
			}
			return errors.Join(errs...)
		},
	}
	parent.AddCommand(cmd)
}

func registerItemsCmd(parent *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List catalog items in the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := catalogform.OpenStore(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.Items(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLATEST\tVERSIONS")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", item.ID, item.Name, item.Latest, item.Versions)
			}
			return w.Flush()
		},
	}
	parent.AddCommand(cmd)
}

func registerWatchCmd(parent *cobra.Command, a *app) {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch [catalog-dir]",
		Short: "Import bundles and re-import them whenever they change",
		Long: `Every subdirectory of the catalog directory holding a manifest.yaml is a
bundle. All bundles are imported on start; afterwards a bundle is imported
again once its files have been quiet for the debounce interval. The catalog
directory defaults to catalog_dir from the configuration.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.cfg.CatalogDir
			if len(args) > 0 {
				root = args[0]
			}
			if root == "" {
				return errors.New("a catalog directory is required")
			}
			ctx := cmd.Context()
			store, err := catalogform.OpenStore(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			w, err := catalogwatch.New(root, store,
				catalogwatch.WithLogger(a.logger.Named("watch")),
				catalogwatch.WithDebounce(debounce),
				catalogwatch.WithOnImport(func(dir string, b bundle.Bundle, err error) {
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", dir, err)
						return
					}
					printImported(cmd, b)
				}),
			)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "quiet period before a changed bundle is imported")
	parent.AddCommand(cmd)
}

func printImported(cmd *cobra.Command, b bundle.Bundle) {
	fmt.Fprintf(cmd.OutOrStdout(), "imported %s@%s (%d additional schemas)\n",
		b.Manifest.ID, b.Manifest.Version, len(b.Additional))
	for _, ref := range b.Missing {
		fmt.Fprintf(cmd.ErrOrStderr(), "  warning: %s@%s references missing schema %s\n",
			b.Manifest.ID, b.Manifest.Version, ref)
	}
}
