package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/AshAI-Sys/ashley-ai-sub015/internal/mrp"
)

// Planner is the planning surface the CLI drives.
type Planner interface {
	GeneratePlan(ctx context.Context, workspaceID, orderID string) ([]mrp.RequirementResult, error)
	OptimizePlan(ctx context.Context, workspaceID string, plan []mrp.RequirementResult) (mrp.ConsolidationResult, error)
}

// PlanCLI prints plans from the command line.
type PlanCLI struct {
	planner Planner
}

// NewPlanCLI constructs the helper.
func NewPlanCLI(planner Planner) (*PlanCLI, error) {
	if planner == nil {
		return nil, errors.New("plan cli: planner required")
	}
	return &PlanCLI{planner: planner}, nil
}

// PlanOptions defines available flags for the plan command.
type PlanOptions struct {
	Workspace  string
	OrderID    string
	Optimize   bool
	JSONOutput bool
	XLSXPath   string
	Stdout     io.Writer
	Stderr     io.Writer
}

type planOutput struct {
	Plan          []mrp.RequirementResult  `json:"plan"`
	Consolidation *mrp.ConsolidationResult `json:"consolidation,omitempty"`
}

// PlanCommand generates the plan and prints it as a table or JSON.
// It exits non-zero when any material is short.
func (c *PlanCLI) PlanCommand(ctx context.Context, opts PlanOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if strings.TrimSpace(opts.Workspace) == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "plan: --workspace is required")
		return 2
	}
	plan, err := c.planner.GeneratePlan(ctx, opts.Workspace, opts.OrderID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "plan: %v\n", err)
		return 1
	}
	out := planOutput{Plan: plan}
	if opts.Optimize {
		res, err := c.planner.OptimizePlan(ctx, opts.Workspace, plan)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "plan: optimize: %v\n", err)
			return 1
		}
		out.Consolidation = &res
	}

	if opts.XLSXPath != "" {
		if err := writeXLSXFile(opts.XLSXPath, out); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "plan: xlsx: %v\n", err)
			return 1
		}
	}

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "plan: encode: %v\n", err)
			return 1
		}
	} else {
		writePlanTable(opts.Stdout, out)
	}

	for _, item := range plan {
		if item.Shortfall > 0 {
			return 3
		}
	}
	return 0
}

func writePlanTable(w io.Writer, out planOutput) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MATERIAL\tNAME\tSTOCK\tDEMAND\tSUPPLY\tPROJECTED\tSHORTFALL\tACTION")
	for _, item := range out.Plan {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			item.MaterialID, item.MaterialName, num(item.CurrentStock), num(item.TotalDemand),
			num(item.PlannedSupply), num(item.ProjectedStock), num(item.Shortfall), item.RecommendedAction)
	}
	_ = tw.Flush()
	if out.Consolidation == nil {
		return
	}
	_, _ = fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SUPPLIER\tLINES\tTOTAL\tORDER BY")
	for _, order := range out.Consolidation.ConsolidatedOrders {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", order.Supplier, len(order.Materials),
			order.TotalCost.StringFixed(2), order.RecommendedDate.Format("2006-01-02"))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "savings: %s\n", out.Consolidation.Savings.TotalSavings.StringFixed(2))
}

func writeXLSXFile(path string, out planOutput) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return mrp.WritePlanXLSX(f, out.Plan, out.Consolidation)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
