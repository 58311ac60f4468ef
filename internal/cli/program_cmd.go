package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
	"github.com/kolibri-omega/kolibri-studio/internal/validator"
)

func (a *App) programCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program",
		Short: "Submit programs for scoring",
	}
	cmd.AddCommand(a.programSubmitCmd())
	return cmd
}

func (a *App) programSubmitCmd() *cobra.Command {
	var (
		bytecode string
		file     string
		notes    string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit bytecode and print its score",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.validator()
			if err != nil {
				return err
			}
			var req kolibri.ProgramSubmitRequest
			var result validator.Result
			switch {
			case file != "" && bytecode != "":
				return errors.New("--bytecode and --file are mutually exclusive")
			case file != "":
				if result, err = v.DecodeFile(validator.KindProgramSubmit, file, &req); err != nil {
					return err
				}
			case bytecode != "":
				if req.Bytecode, err = parseProgram(bytecode); err != nil {
					return err
				}
			default:
				return errors.New("--bytecode or --file is required")
			}
			if notes != "" {
				req.Notes = notes
			}
			if file == "" {
				payload, err := json.Marshal(req)
				if err != nil {
					return err
				}
				if result = v.Validate(validator.KindProgramSubmit, payload); !result.Valid {
					return &validator.InvalidError{Result: result}
				}
			}
			printWarnings(cmd.ErrOrStderr(), result)

			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.SubmitProgram(ctx, req)
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				tw := newTable(w)
				fmt.Fprintf(tw, "Program:\t%s\n", valueOrDash(resp.ProgramID))
				fmt.Fprintf(tw, "PoE:\t%s\n", floatOrDash(resp.PoE, "%.4f"))
				fmt.Fprintf(tw, "MDL:\t%s\n", floatOrDash(resp.MDL, "%.4f"))
				fmt.Fprintf(tw, "Score:\t%s\n", floatOrDash(resp.Score, "%.4f"))
				accepted := "-"
				if resp.Accepted != nil {
					accepted = fmt.Sprintf("%t", *resp.Accepted)
				}
				fmt.Fprintf(tw, "Accepted:\t%s\n", accepted)
				flushTable(tw)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&bytecode, "bytecode", "b", "", "Bytecode as comma or space separated integers")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML submission file")
	cmd.Flags().StringVar(&notes, "notes", "", "Notes stored with the program")
	return cmd
}

func (a *App) chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Work with the node chain",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "submit <programId>",
		Short: "Append a scored program to the chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.SubmitChain(ctx, kolibri.ChainSubmitRequest{ProgramID: args[0]})
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				tw := newTable(w)
				fmt.Fprintf(tw, "Status:\t%s\n", resp.Status)
				fmt.Fprintf(tw, "Block:\t%s\n", valueOrDash(resp.BlockID))
				fmt.Fprintf(tw, "Position:\t%s\n", intOrDash(resp.Position))
				fmt.Fprintf(tw, "PoE:\t%s\n", floatOrDash(resp.PoE, "%.4f"))
				fmt.Fprintf(tw, "MDL delta:\t%s\n", floatOrDash(resp.MDLDelta, "%.4f"))
				flushTable(tw)
				return nil
			})
		},
	})
	return cmd
}
