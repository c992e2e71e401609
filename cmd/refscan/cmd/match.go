package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/corey/refscan/internal/adapters/catalogfile"
	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/ports"
)

var (
	matchCatalogFile string
	matchName        string
	matchText        string
	matchFile        string
	matchFuzzy       int
	matchTags        []string
	matchJSON        bool
)

var matchCmd = &cobra.Command{
	Use:   "match [flags]",
	Short: "Find catalog values in text",
	Long: "Reports every occurrence of a catalog value in the text with its span.\n" +
		"Text comes from --text, --file, or stdin. The catalog is a JSON/YAML file (--catalog)\n" +
		"or a named catalog served by the daemon or stored in the project (--name).",
	Args: cobra.NoArgs,
	RunE: runMatch,
}

func init() {
	f := matchCmd.Flags()
	f.StringVarP(&matchCatalogFile, "catalog", "c", "", "Catalog file (.json, .yaml)")
	f.StringVarP(&matchName, "name", "n", "", "Named catalog")
	f.StringVarP(&matchText, "text", "t", "", "Text to scan")
	f.StringVarP(&matchFile, "file", "f", "", "Read text from file (- for stdin)")
	f.IntVarP(&matchFuzzy, "fuzzy", "k", 0, "Fuzzy threshold: max edits for values with no exact hit")
	f.StringSliceVar(&matchTags, "tag", nil, "Context tag set on every record (repeatable)")
	f.BoolVar(&matchJSON, "json", false, "Output records as JSON")
	matchCmd.MarkFlagsMutuallyExclusive("catalog", "name")
	matchCmd.MarkFlagsOneRequired("catalog", "name")
	matchCmd.MarkFlagsMutuallyExclusive("text", "file")
}

func runMatch(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, matchText, matchFile, cmd.Flags().Changed("text"))
	if err != nil {
		return err
	}

	params := socket.MatchParams{
		Catalog:        matchName,
		Text:           text,
		FuzzyThreshold: matchFuzzy,
	}
	if matchCatalogFile != "" {
		c, err := catalogfile.Load(matchCatalogFile)
		if err != nil {
			return err
		}
		params.Patterns = c.Patterns
		if params.Patterns == nil {
			// An empty catalog file still selects the inline catalog.
			params.Patterns = []ports.Pattern{}
		}
	}
	if len(matchTags) > 0 {
		params.Context = make(map[string]bool, len(matchTags))
		for _, t := range matchTags {
			params.Context[t] = true
		}
	}

	b, release, err := openBackend()
	if err != nil {
		return err
	}
	defer release()

	result, err := b.Match(params)
	if err != nil {
		return err
	}
	return printMatches(cmd.OutOrStdout(), result, text, matchJSON)
}

// readText returns the literal text when given, else the file (or stdin).
func readText(cmd *cobra.Command, literal, path string, literalSet bool) (string, error) {
	if literalSet {
		return literal, nil
	}
	var r io.Reader = cmd.InOrStdin()
	if path == "" && r == os.Stdin && !isStdinPipe() {
		return "", fmt.Errorf("no text: use --text, --file, or pipe it on stdin")
	}
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return string(data), nil
}
