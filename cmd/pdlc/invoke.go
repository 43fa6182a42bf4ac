package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hupe1980/pdlcmesh/a2a"
	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/pdlc"
)

func newInvokeCmd(flags *rootFlags) *cobra.Command {
	var (
		sessionID string
		url       string
		stream    bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <sde|qa|coordinator> <query>",
		Short: "Run a single turn against an agent",
		Long: `Runs one turn against a locally built agent, or against a served agent when --url is set,
and prints the final content. With --stream the intermediate status updates are printed as well.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := pdlc.ParseKind(args[0])
			if err != nil {
				return err
			}

			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			var turns core.TurnExecutor

			if url != "" {
				turns = a2a.NewClient(url)
			} else {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}

				env, err := setup(cmd.Context(), cfg, kind)
				if err != nil {
					return err
				}
				defer env.Close()

				turns = env.service.Turns
			}

			return runTurn(cmd, turns, args[1], sessionID, stream)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (default: a new session)")
	cmd.Flags().StringVar(&url, "url", "", "Base URL of a served agent")
	cmd.Flags().BoolVar(&stream, "stream", false, "Print status updates")

	return cmd
}

func runTurn(cmd *cobra.Command, turns core.TurnExecutor, query, sessionID string, stream bool) error {
	out := cmd.OutOrStdout()

	for u := range turns.Stream(cmd.Context(), query, sessionID) {
		if !u.Complete {
			if stream && u.Status != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "> %s\n", u.Status)
			}
			continue
		}

		if u.Err != nil {
			return u.Err
		}

		return printContent(out, u.Content)
	}

	return nil
}

func printContent(w io.Writer, content any) error {
	if s, ok := content.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(content)
}
