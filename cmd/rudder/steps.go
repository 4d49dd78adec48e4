package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/calder-ai/rudder/internal/budget"
	"github.com/calder-ai/rudder/internal/provider"
	"github.com/calder-ai/rudder/internal/workflow"
	"github.com/calder-ai/rudder/pkg/models"
)

// maxModelTurns bounds the generate/tool loop within one phase so a
// model that keeps requesting tools cannot spin a phase forever.
const maxModelTurns = 20

// phaseInstructions are the per-phase prompts injected at the start of
// each phase step.
var phaseInstructions = map[models.Phase]string{
	models.PhaseAssess:  "Assess the request. Inspect the relevant parts of the project and summarize what needs to change. Do not make changes yet.",
	models.PhasePlan:    "Plan the work. List the concrete edits and commands required, in order. Do not make changes yet.",
	models.PhaseExecute: "Execute the plan. Make the edits and run the commands you planned.",
	models.PhaseTest:    "Test the changes. Run the project's tests or exercise the changed behavior directly.",
	models.PhaseVerify:  "Verify the result against the original request. Check that nothing was missed and nothing unrelated changed.",
	models.PhaseConfirm: "Summarize what was done, what was verified, and anything the user should know.",
	models.PhaseCommit:  "Finalize. State the outcome in one short message.",
}

// buildSteps maps every phase to a generation step over the shared
// conversation.
func buildSteps(client *provider.Client, exec *provider.ToolExecutor, driver *workflow.Driver) map[models.Phase]workflow.StepFunc {
	steps := make(map[models.Phase]workflow.StepFunc, len(phaseInstructions))
	for phase, instruction := range phaseInstructions {
		steps[phase] = generationStep(client, exec, driver, instruction)
	}
	return steps
}

// generationStep produces a StepFunc that prompts the model with the
// phase instruction and services tool calls until the model settles.
func generationStep(client *provider.Client, exec *provider.ToolExecutor, driver *workflow.Driver, instruction string) workflow.StepFunc {
	return func(ctx context.Context, run *models.WorkflowRun) error {
		driver.AppendTurn("user", instruction)

		for turn := 0; turn < maxModelTurns; turn++ {
			resp, err := client.Generate(ctx, driver.Turns(), driver.Strategy())
			if err != nil {
				return err
			}

			tracker := driver.Tracker()
			tracker.RecordExact(resp.InputTokens, resp.OutputTokens)
			tracker.RecordCost(budget.CostFor(client.Model(), resp.InputTokens, resp.OutputTokens))
			run.TokensUsed = tracker.Used()
			run.Cost = tracker.Cost()

			if resp.Text != "" {
				driver.AppendTurn("agent", resp.Text)
			}
			if len(resp.ToolCalls) == 0 {
				return nil
			}

			tasks := make([]models.ToolTask, len(resp.ToolCalls))
			for i, call := range resp.ToolCalls {
				tasks[i] = exec.Task(call)
			}
			results, err := driver.RunTools(ctx, run, tasks)
			if err != nil {
				return err
			}
			driver.AppendTurn("user", formatToolResults(results))
		}
		return fmt.Errorf("model requested tools for %d consecutive turns without settling", maxModelTurns)
	}
}

// formatToolResults renders tool outcomes back into the conversation.
// Failures are reported as data so the model can react to them.
func formatToolResults(results []models.ToolExecutionResult) string {
	var b strings.Builder
	for i, res := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if res.Success {
			fmt.Fprintf(&b, "[%s]\n%v", res.Tool, res.Data)
			continue
		}
		fmt.Fprintf(&b, "[%s] failed: %v", res.Tool, res.Err)
	}
	return b.String()
}
