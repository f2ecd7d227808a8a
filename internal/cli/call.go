package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/harun/toolgate/pkg/client"
	"github.com/spf13/cobra"
)

var (
	callURL     string
	callAgent   string
	callEmotion string
	callTimeout time.Duration
	callStream  bool
)

var callCmd = &cobra.Command{
	Use:   "call <tool> [params-json]",
	Short: "Invoke a tool on a running gateway",
	Long: `Invoke a tool on a running gateway and print its result.
Parameters are passed as a JSON object. With --stream, tokens are printed as
they arrive.`,
	Example: `  toolgate call echo '{"message":"hello"}'
  toolgate call tokenize '{"text":"one two three"}' --stream`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callURL, "url", "", "gateway WebSocket URL (default derived from the config)")
	callCmd.Flags().StringVar(&callAgent, "agent", "cli", "agent name recorded in the ledger")
	callCmd.Flags().StringVar(&callEmotion, "emotion", "", "emotion recorded in the ledger")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", client.DefaultTimeout, "call timeout")
	callCmd.Flags().BoolVar(&callStream, "stream", false, "stream the result token by token")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	params := map[string]interface{}{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("params must be a JSON object: %w", err)
		}
	}

	c, err := newClient(callURL, callAgent, callTimeout)
	if err != nil {
		return err
	}

	var opts []client.CallOption
	if callEmotion != "" {
		opts = append(opts, client.WithEmotion(callEmotion))
	}

	if !callStream {
		result, err := c.Invoke(cmd.Context(), args[0], params, opts...)
		if err != nil {
			return err
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, result, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(result)
		}
		fmt.Fprintln(out, pretty.String())
		return nil
	}

	stream, err := c.Stream(cmd.Context(), args[0], params, opts...)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		fmt.Fprint(out, token)
	}
}

// newClient builds a client for url, or for the configured server when url is empty
func newClient(url, agent string, timeout time.Duration) (*client.Client, error) {
	if url == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		url = "ws://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)) + cfg.Server.Path
	}
	return client.New(url, client.WithAgent(agent), client.WithTimeout(timeout)), nil
}
