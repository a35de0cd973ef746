package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cutting-params/internal/model"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <query>",
	Short: "Recommend cutting parameters for a machining query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := initAdvisor(ctx, "recommend")
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Pipeline.Run(ctx, strings.Join(args, " "))

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		case "text":
			formatResult(os.Stdout, res)
			return nil
		default:
			return eris.Errorf("unknown format %q", format)
		}
	},
}

func init() {
	recommendCmd.Flags().String("format", "text", "output format (text, json)")
	rootCmd.AddCommand(recommendCmd)
}

// formatResult writes a human-readable report of res to w.
func formatResult(w io.Writer, res *model.QueryResult) {
	if len(res.Results) == 0 {
		_, _ = fmt.Fprintln(w, "No sub-queries could be derived from the query.")
		return
	}
	for i, r := range res.Results {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "[%d] %s\n", i+1, r.SubQuery)
		_, _ = fmt.Fprintf(w, "    route: %s\n", r.Route)

		switch {
		case r.Error != "":
			_, _ = fmt.Fprintf(w, "    error: %s\n", r.Error)
		case r.Answer != nil:
			a := r.Answer
			_, _ = fmt.Fprintf(w, "    parameter: %s\n", a.QuestionedParameter)
			_, _ = fmt.Fprintf(w, "    tool:      %s\n", a.ToolRange)
			_, _ = fmt.Fprintf(w, "    material:  %s\n", a.MetalRange)
			if a.Conflicted {
				_, _ = fmt.Fprintln(w, "    combined:  CONFLICT (tool and material ranges disagree)")
			} else {
				_, _ = fmt.Fprintf(w, "    combined:  %s\n", a.CombinedRange)
			}
			_, _ = fmt.Fprintf(w, "    notes:     %s\n", a.Thoughts)
			if r.Evidence != nil {
				for _, warn := range r.Evidence.Warnings {
					_, _ = fmt.Fprintf(w, "    warning:   %s\n", warn)
				}
			}
		default:
			_, _ = fmt.Fprintf(w, "    %s\n", r.Message)
		}
	}
	_, _ = fmt.Fprintf(w, "\n%d/%d answered, %d model calls, $%.4f\n",
		res.Succeeded(), len(res.Results), res.Usage.Calls, res.Usage.CostUSD)
}
