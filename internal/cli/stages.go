package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/rogers-f/estate-workflow/internal/domain"
	"github.com/rogers-f/estate-workflow/internal/workflow"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	allowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	denyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

func newStagesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "Show the configured stage layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rules, err := cfg.Rules()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStages(rules))
			return nil
		},
	}
}

// renderStages draws one row per stage with its step range.
func renderStages(rules workflow.Rules) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("STAGE", "FIRST STEP", "LAST STEP", "STEPS", "NOTES").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, s := range rules.Stages.Stages() {
		start, end, _ := rules.Stages.StageRange(s.Number)
		var notes []string
		if rules.IntegrationStart >= start && rules.IntegrationStart <= end {
			notes = append(notes, fmt.Sprintf("integration from step %d", rules.IntegrationStart))
		}
		if end == rules.TotalSteps()-1 {
			notes = append(notes, "completes application")
		} else {
			notes = append(notes, "review after last step")
		}
		t.Row(
			strconv.Itoa(s.Number),
			strconv.Itoa(start),
			strconv.Itoa(end),
			strconv.Itoa(end-start+1),
			strings.Join(notes, "; "),
		)
	}

	return t.String() + fmt.Sprintf("\ntotal steps: %d", rules.TotalSteps())
}

func newCanEditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "can-edit <role> <status>",
		Short: "Check whether a role may edit an application in a status",
		Long: `Evaluate the edit permission gate, for example:

  estateflow can-edit TECHNICIAN REJECTED`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			role := domain.Role(strings.ToUpper(args[0]))
			status := domain.Status(strings.ToUpper(args[1]))
			verdict := denyStyle.Render("no")
			if workflow.CanEditByRoleAndStatus(role, status) {
				verdict = allowStyle.Render("yes")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s editing %s: %s\n", role, status, verdict)
		},
	}
}
