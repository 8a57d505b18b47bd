package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flulink/engine/internal/client"
	"github.com/flulink/engine/internal/engine"
	"github.com/flulink/engine/internal/router"
)

var (
	dispatchData   string
	dispatchRemote string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <action> [payload.json|-]",
	Short: "Run one router action locally",
	Long:  "Run one router action against the configured engine and print the JSON result.\n\nActions:\n" + actionList(),
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVarP(&dispatchData, "data", "d", "", "Inline JSON payload")
	dispatchCmd.Flags().StringVar(&dispatchRemote, "remote", "", "Send to a running server at this URL instead of running locally")
}

func actionList() string {
	var b strings.Builder
	for _, r := range router.Registry {
		fmt.Fprintf(&b, "  %-22s %s\n", r.Action, r.Description)
	}
	return b.String()
}

func runDispatch(cmd *cobra.Command, args []string) error {
	var payload []byte
	switch {
	case dispatchData != "":
		payload = []byte(dispatchData)
	case len(args) == 2:
		var err error
		payload, err = readInput(args[1], cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
	}

	if dispatchRemote != "" {
		c := client.New(dispatchRemote)
		if !c.Healthy(cmd.Context()) {
			return engine.Errorf(engine.KindUnavailable, "no flulink server answering at %s", dispatchRemote)
		}
		out, err := c.Dispatch(cmd.Context(), args[0], payload)
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(out, &v); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), v)
	}

	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.router.Dispatch(cmd.Context(), args[0], json.RawMessage(payload))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
