package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/toolgate/pkg/tool"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools a running gateway serves",
	Long:  `List the tools a running gateway serves by invoking its list_tools tool.`,
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

var (
	toolsURL     string
	toolsTimeout time.Duration
)

func init() {
	toolsCmd.Flags().StringVar(&toolsURL, "url", "", "gateway WebSocket URL (default derived from the config)")
	toolsCmd.Flags().DurationVar(&toolsTimeout, "timeout", 10*time.Second, "call timeout")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	c, err := newClient(toolsURL, "cli", toolsTimeout)
	if err != nil {
		return err
	}

	result, err := c.Invoke(cmd.Context(), "list_tools", nil)
	if err != nil {
		return err
	}

	var listing struct {
		Tools []tool.Metadata `json:"tools"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		return fmt.Errorf("unexpected list_tools result: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tEMOTION\tDESCRIPTION")
	for _, t := range listing.Tools {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.DefaultEmotion, t.Description)
	}
	return w.Flush()
}
