package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/refscan/internal/adapters/catalogfile"
	"github.com/corey/refscan/internal/adapters/socket"
)

var (
	catalogJSON bool
	catalogOut  string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage named catalogs",
	Long:  "Stores, inspects and removes named catalogs. Uses the daemon when it is running.",
}

var catalogPutCmd = &cobra.Command{
	Use:   "put <name> <file>",
	Short: "Store a catalog from a JSON or YAML file",
	Args:  cobra.ExactArgs(2),
	RunE:  runCatalogPut,
}

var catalogGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a catalog's patterns",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogGet,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded catalogs",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

var catalogDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogDelete,
}

func init() {
	catalogGetCmd.Flags().StringVarP(&catalogOut, "out", "o", "", "Write to file (.json, .yaml) instead of stdout")
	catalogListCmd.Flags().BoolVar(&catalogJSON, "json", false, "Output as JSON")

	catalogCmd.AddCommand(catalogPutCmd)
	catalogCmd.AddCommand(catalogGetCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogDeleteCmd)
}

func runCatalogPut(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]
	c, err := catalogfile.Load(path)
	if err != nil {
		return err
	}

	b, release, err := openBackend()
	if err != nil {
		return err
	}
	defer release()

	info, err := b.PutCatalog(socket.PutCatalogParams{Name: name, Patterns: c.Patterns})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "⚡ stored %s │ %d patterns │ %d values\n",
		paint(colorCyan, info.Name), info.Patterns, info.Values)
	return nil
}

func runCatalogGet(cmd *cobra.Command, args []string) error {
	b, release, err := openBackend()
	if err != nil {
		return err
	}
	defer release()

	c, err := b.GetCatalog(args[0])
	if err != nil {
		return err
	}
	if catalogOut != "" {
		if err := catalogfile.Save(catalogOut, c); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "⚡ wrote %s\n", catalogOut)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), c)
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	b, release, err := openBackend()
	if err != nil {
		return err
	}
	defer release()

	result, err := b.Catalogs()
	if err != nil {
		return err
	}
	if catalogJSON {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprint(cmd.OutOrStdout(), formatCatalogs(result, cfg.ProjectRoot))
	return nil
}

func runCatalogDelete(cmd *cobra.Command, args []string) error {
	b, release, err := openBackend()
	if err != nil {
		return err
	}
	defer release()

	if err := b.DeleteCatalog(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "⚡ deleted %s\n", args[0])
	return nil
}
