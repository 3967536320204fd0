package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fize-ai/soloqueue/internal/bus"
	"github.com/fize-ai/soloqueue/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		agentName string
		userID    string
		oneShot   string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent (interactive, or one-shot with --message)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if agentName == "" {
				// Default to the first leader, else the first agent.
				for _, a := range app.reg.Agents() {
					if agentName == "" || a.IsLeader {
						agentName = a.NodeID()
						if a.IsLeader {
							break
						}
					}
				}
			}
			if agentName == "" {
				return fmt.Errorf("no agents defined in %s/config/agents", app.ws.Root())
			}

			ctx := cmd.Context()
			app.watchSkills(ctx)

			callback := streamPrinter()

			if oneShot != "" {
				result := app.orch.Run(ctx, agentName, oneShot, callback, "", userID)
				fmt.Println()
				fmt.Println(result)
				return nil
			}

			fmt.Printf("soloqueue chat — agent %s (Ctrl-D to exit, /new for a fresh session)\n", agentName)
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				message := strings.TrimSpace(scanner.Text())
				if message == "" {
					continue
				}
				result := app.orch.Run(ctx, agentName, message, callback, "", userID)
				fmt.Println()
				fmt.Println(result)
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "entry agent (node id or simple name)")
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "user id for session identity")
	cmd.Flags().StringVarP(&oneShot, "message", "m", "", "run one message and exit")
	return cmd
}

// streamPrinter renders stream events to the terminal: thinking dimmed,
// answers plain.
func streamPrinter() func(bus.Event) {
	thinkingOpen := false
	return func(e bus.Event) {
		if e.Name != protocol.EventStream {
			return
		}
		payload, ok := e.Payload.(protocol.StreamPayload)
		if !ok {
			return
		}
		switch payload.StreamType {
		case protocol.StreamThinking:
			if !thinkingOpen {
				fmt.Print("\033[90m")
				thinkingOpen = true
			}
			fmt.Print(payload.Content)
		case protocol.StreamAnswer:
			if thinkingOpen {
				fmt.Print("\033[0m\n")
				thinkingOpen = false
			}
			fmt.Print(payload.Content)
		}
	}
}
