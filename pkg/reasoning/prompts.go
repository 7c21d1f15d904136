package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/stepwise/pkg/capability"
)

const dateLayout = "2006-01-02"

func renderCatalog(catalog []capability.Descriptor) string {
	if len(catalog) == 0 {
		return "[]"
	}
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func renderDescriptor(d capability.Descriptor) string {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return d.ToolID
	}
	return string(data)
}

func toolNames(catalog []capability.Descriptor) string {
	names := make([]string, 0, len(catalog))
	for _, d := range catalog {
		names = append(names, d.ToolID)
	}
	return "[" + strings.Join(names, ", ") + "]"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func analyzePrompt(req AnalyzeRequest, now time.Time) string {
	var b strings.Builder
	today := now.Format(dateLayout)
	b.WriteString("Task: Analyze the query and its inputs, then decide which skills and tools are needed to answer it.\n")
	fmt.Fprintf(&b, "Current date: %s\n", today)
	fmt.Fprintf(&b, "Available tools: %s\n", toolNames(req.Catalog))
	fmt.Fprintf(&b, "Tool metadata:\n%s\n", renderCatalog(req.Catalog))
	fmt.Fprintf(&b, "Attachments:\n%s\n", describeAttachments(req.Attachments))
	fmt.Fprintf(&b, "Query: %s\n\n", req.Query)
	b.WriteString(`Instructions:
1. Read the query and any attachments and identify its objectives.
2. List the skills required to answer it, each with a short explanation.
3. Pick the tools from the list above that look useful. Take each tool's user_metadata into account, limitations included.
4. Note anything else that matters for a good answer.
`)
	fmt.Fprintf(&b, "5. Remember that the current date is %s.\n\n", today)
	b.WriteString(`Respond with one JSON object:
{"concise_summary": "...", "required_skills": "...", "relevant_tools": "...", "additional_considerations": "..."}`)
	return b.String()
}

func predictPrompt(req PredictRequest, now time.Time) string {
	var b strings.Builder
	b.WriteString("Task: Choose the single best next step toward answering the query.\n")
	fmt.Fprintf(&b, "Current date: %s\n", now.Format(dateLayout))
	fmt.Fprintf(&b, "Query: %s\n", req.Query)
	fmt.Fprintf(&b, "Attachments: %s\n", orNone(attachmentPaths(req.Attachments)))
	fmt.Fprintf(&b, "Query analysis:\n%s\n", req.Analysis)
	fmt.Fprintf(&b, "Available tools: %s\n", toolNames(req.Catalog))
	fmt.Fprintf(&b, "Tool metadata:\n%s\n", renderCatalog(req.Catalog))
	fmt.Fprintf(&b, "Previous steps and results:\n%s\n", orNone(req.History))
	fmt.Fprintf(&b, "Current step: %d of %d (remaining after this one: %d)\n\n", req.Step, req.MaxSteps, max(req.MaxSteps-req.Step, 0))
	b.WriteString(`Instructions:
1. Weigh the objectives from the analysis against what the tools can do and what earlier steps produced.
2. Select exactly ONE tool. Steps are limited, so do not repeat work already done.
3. Give the tool a concrete sub-goal that carries every value, file path and intermediate result it needs.
`)
	fmt.Fprintf(&b, "4. tool_name MUST be one of %s, spelled exactly.\n\n", toolNames(req.Catalog))
	b.WriteString(`Respond with one JSON object:
{"justification": "why this tool now", "context": "all data from earlier steps the tool needs", "sub_goal": "what the tool must achieve", "tool_name": "exact tool id"}`)
	return b.String()
}

func commandPrompt(req CommandRequest, now time.Time) string {
	var b strings.Builder
	b.WriteString("Task: Build the exact input argument for the selected tool.\n")
	fmt.Fprintf(&b, "Current date: %s\n", now.Format(dateLayout))
	fmt.Fprintf(&b, "Query: %s\n", req.Query)
	fmt.Fprintf(&b, "Attachments: %s\n", orNone(attachmentPaths(req.Attachments)))
	fmt.Fprintf(&b, "Context: %s\n", orNone(req.Plan.Context))
	fmt.Fprintf(&b, "Sub-goal: %s\n", req.Plan.SubGoal)
	fmt.Fprintf(&b, "Selected tool: %s\n", req.Plan.ToolName)
	fmt.Fprintf(&b, "Tool metadata:\n%s\n\n", renderDescriptor(req.Tool))
	b.WriteString(`Instructions:
1. Read input_type_json_schema and fill every required field, plus optional ones that help.
2. Use the field names from the schema exactly and the right JSON types.
3. Take values from the context and sub-goal; do not invent data that is not there.
4. The argument MUST be exactly one JSON object. Several objects, code, or comments are rejected.

Respond with one JSON object:
{"analysis": "how you derived the argument", "explanation": "what each field means", "argument": "{\"field\": \"value\"}"}`)
	return b.String()
}

func verifyPrompt(req VerifyRequest, now time.Time) string {
	var b strings.Builder
	b.WriteString("Task: Decide whether the steps taken so far are enough to answer the query.\n")
	fmt.Fprintf(&b, "Current date: %s\n", now.Format(dateLayout))
	fmt.Fprintf(&b, "Query: %s\n", req.Query)
	fmt.Fprintf(&b, "Attachments:\n%s\n", describeAttachments(req.Attachments))
	fmt.Fprintf(&b, "Available tools: %s\n", toolNames(req.Catalog))
	fmt.Fprintf(&b, "Tool metadata:\n%s\n", renderCatalog(req.Catalog))
	fmt.Fprintf(&b, "Initial analysis:\n%s\n", req.Analysis)
	fmt.Fprintf(&b, "Steps taken and results:\n%s\n\n", orNone(req.History))
	b.WriteString(`Check explicitly:
a) Completeness: is every part of the query answered?
b) Unused tools: would another tool add relevant information?
c) Inconsistencies: do results contradict each other?
d) Verification: does anything need confirming because of tool limitations?
e) Ambiguities: could another tool clarify an unclear result?

Set stop_signal to true when the results are sufficient and no further tool call is needed (manual checks alone do not count), false otherwise.

Respond with one JSON object:
{"analysis": "your evaluation", "stop_signal": true}`)
	return b.String()
}

func finalizePrompt(req FinalizeRequest, now time.Time) string {
	var b strings.Builder
	b.WriteString("Task: Write the final answer from the query, its attachments and the steps taken.\n")
	fmt.Fprintf(&b, "Current date: %s\n", now.Format(dateLayout))
	fmt.Fprintf(&b, "Query: %s\n", req.Query)
	fmt.Fprintf(&b, "Attachments:\n%s\n", describeAttachments(req.Attachments))
	fmt.Fprintf(&b, "Initial analysis:\n%s\n", req.Analysis)
	fmt.Fprintf(&b, "Steps taken:\n%s\n\n", orNone(req.History))
	b.WriteString(`Structure the answer as:
1. Summary of the query and main findings.
2. Step-by-step account: tool used, purpose, key result.
3. Key findings.
4. A direct answer to the query, each part answered separately.
5. Limitations or uncertainty, if any.
Keep it consistent with the tool results; do not claim results that were not obtained.`)
	return b.String()
}
