package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipzy/clipzy-server/internal/policy"
)

var putCmd = &cobra.Command{
	Use:   "put [file]",
	Short: "Encrypt and upload text from a file or stdin, then print the share link",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPut,
}

func init() {
	putCmd.Flags().Duration("ttl", policy.DefaultTTL, "how long the paste lives")
	putCmd.Flags().Bool("permanent", false, "never expire the paste")
	putCmd.Flags().Bool("raw-url", false, "also print the server-side decrypt URL")
}

func runPut(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	text, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if len(text) == 0 {
		return fmt.Errorf("nothing to share")
	}

	ttl, _ := cmd.Flags().GetDuration("ttl")
	if permanent, _ := cmd.Flags().GetBool("permanent"); permanent {
		ttl = policy.NoExpiry
	} else if ttl <= 0 || ttl > policy.MaxTTL || ttl%time.Second != 0 {
		return fmt.Errorf("--ttl must be whole seconds between 1s and %s", policy.MaxTTL)
	}

	link, err := newClient().Share(cmd.Context(), string(text), ttl)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, link.String())
	if rawURL, _ := cmd.Flags().GetBool("raw-url"); rawURL {
		fmt.Fprintln(out, link.RawURL())
	}
	return nil
}
