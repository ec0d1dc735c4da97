package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/llm/tools"
)

const planInstruction = `You are the planning stage of an analysis agent.
Decide which tools (if any) must be called to answer the task.
Respond with ONLY a JSON array. Each element: {"step": <int>, "tool": "<tool name>", "params": {<key>: <value>}, "purpose": "<why>"}.
Use only the tools listed below and include every required parameter.
If no tool is needed, respond with [] .
At most %d steps.`

// BuildPlanMessages 构造 Plan 阶段的消息：列出工具名、描述与参数 Schema，
// 要求模型只输出 JSON 数组，允许空数组。
func BuildPlanMessages(turn Turn, available []tools.Tool, maxSteps int) []llm.Message {
	var b strings.Builder
	if turn.Instruction != "" {
		b.WriteString(turn.Instruction)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, planInstruction, maxSteps)
	b.WriteString("\n\nAvailable tools:\n")
	if len(available) == 0 {
		b.WriteString("(none, respond with [])\n")
	}
	for _, t := range available {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		schema := t.Schema().Parameters
		fmt.Fprintf(&b, "  parameters: %s\n", compactJSON(schema))
		if len(t.Required) > 0 {
			fmt.Fprintf(&b, "  required: %s\n", strings.Join(t.Required, ", "))
		}
	}

	user := "Task: " + turn.Task
	if strings.TrimSpace(turn.Context) != "" {
		user += "\n\nContext:\n" + turn.Context
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: b.String()},
		{Role: llm.RoleUser, Content: user},
	}
}

// BuildSolveMessages 构造 Solve 阶段的消息。每个计划步骤与其观察严格按计划顺序成对列出，
// 失败的观察显示为 "tool failed: <reason>"。
func BuildSolveMessages(turn Turn, plan []PlanStep, observations []Observation, degraded, partial bool) []llm.Message {
	var sys strings.Builder
	if turn.Instruction != "" {
		sys.WriteString(turn.Instruction)
		sys.WriteString("\n\n")
	}
	sys.WriteString("You are the solving stage of an analysis agent. Use the tool observations below to produce the final analysis.")
	if turn.AnswerSpec != "" {
		sys.WriteString("\n\nOutput format:\n")
		sys.WriteString(turn.AnswerSpec)
	}

	var user strings.Builder
	user.WriteString("Task: " + turn.Task + "\n")
	if strings.TrimSpace(turn.Context) != "" {
		user.WriteString("\nContext:\n" + turn.Context + "\n")
	}
	user.WriteString("\n")
	user.WriteString(RenderEvidence(plan, observations))
	if degraded {
		user.WriteString("\nANALYSIS DEGRADED: every tool call failed. State this explicitly and lower your confidence accordingly.\n")
	}
	if partial {
		user.WriteString("\nNOTE: the turn was cancelled before all tools finished; answer from the completed observations only.\n")
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sys.String()},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// RenderEvidence 渲染 (step, observation) 对，顺序与计划一致
func RenderEvidence(plan []PlanStep, observations []Observation) string {
	if len(plan) == 0 {
		return "No tools were used; answer from the task and context alone.\n"
	}
	var b strings.Builder
	b.WriteString("Plan execution results:\n")
	for i, step := range plan {
		obs := "tool failed: not executed"
		if i < len(observations) {
			obs = truncate(observations[i].Render(), 2000)
		}
		fmt.Fprintf(&b, "Step %d: %s(%s)", step.Index, step.Tool, compactParams(step.Params))
		if step.Purpose != "" {
			fmt.Fprintf(&b, " purpose: %s", step.Purpose)
		}
		fmt.Fprintf(&b, "\n  -> %s\n", obs)
	}
	return b.String()
}

func compactParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	data, _ := json.Marshal(v)
	return string(data)
}
