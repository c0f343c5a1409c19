package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clipzy/clipzy-server/internal/client"
)

var getCmd = &cobra.Command{
	Use:   "get <link>",
	Short: "Download and decrypt a paste",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().Bool("raw", false, "let the server decrypt (sends the key to the server)")
}

func runGet(cmd *cobra.Command, args []string) error {
	link, err := client.ParseLink(args[0])
	if err != nil {
		return err
	}

	c := newClient()
	if link.Base != "" {
		c = client.New(link.Base, nil)
	}

	var text string
	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		text, err = c.Raw(cmd.Context(), link.ID, link.Key)
	} else {
		text, err = c.Fetch(cmd.Context(), link)
	}
	if client.IsNotFound(err) {
		return fmt.Errorf("paste %s does not exist or has expired", link.ID)
	}
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}
