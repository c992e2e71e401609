package cmd

import (
	"github.com/spf13/cobra"

	"github.com/corey/refscan/internal/adapters/catalogfile"
	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/ports"
)

var (
	messageCatalogFile string
	messageName        string
	messageSubject     string
	messageBody        string
	messageBodyFile    string
	messageFuzzy       int
	messageJSON        bool
)

var messageCmd = &cobra.Command{
	Use:   "message [flags]",
	Short: "Match an email subject and body",
	Long: "Matches subject and body separately. Subject records come first and are tagged\n" +
		"is_subject; body records are tagged is_body. The body comes from --body, --body-file, or stdin.",
	Args: cobra.NoArgs,
	RunE: runMessage,
}

func init() {
	f := messageCmd.Flags()
	f.StringVarP(&messageCatalogFile, "catalog", "c", "", "Catalog file (.json, .yaml)")
	f.StringVarP(&messageName, "name", "n", "", "Named catalog")
	f.StringVarP(&messageSubject, "subject", "s", "", "Message subject")
	f.StringVarP(&messageBody, "body", "b", "", "Message body")
	f.StringVar(&messageBodyFile, "body-file", "", "Read body from file (- for stdin)")
	f.IntVarP(&messageFuzzy, "fuzzy", "k", 0, "Fuzzy threshold: max edits for values with no exact hit")
	f.BoolVar(&messageJSON, "json", false, "Output records as JSON")
	messageCmd.MarkFlagsMutuallyExclusive("catalog", "name")
	messageCmd.MarkFlagsOneRequired("catalog", "name")
	messageCmd.MarkFlagsMutuallyExclusive("body", "body-file")
}

func runMessage(cmd *cobra.Command, args []string) error {
	body, err := readText(cmd, messageBody, messageBodyFile, cmd.Flags().Changed("body"))
	if err != nil {
		return err
	}

	params := socket.MessageParams{
		Catalog:        messageName,
		Subject:        messageSubject,
		Body:           body,
		FuzzyThreshold: messageFuzzy,
	}
	if messageCatalogFile != "" {
		c, err := catalogfile.Load(messageCatalogFile)
		if err != nil {
			return err
		}
		params.Patterns = c.Patterns
		if params.Patterns == nil {
			// An empty catalog file still selects the inline catalog.
			params.Patterns = []ports.Pattern{}
		}
	}

	b, release, err := openBackend()
	if err != nil {
		return err
	}
	defer release()

	result, err := b.Message(params)
	if err != nil {
		return err
	}
	return printMessage(cmd.OutOrStdout(), result, messageSubject, body, messageJSON)
}
