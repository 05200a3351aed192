package pipeline

import (
	"encoding/json"

	"codelens-ci/internal/llm"
)

// Pipeline role names. These are speaker labels in the transcript; the
// reporter's is also matched when extracting the final report.
const (
	roleScanner  = "Scanner"
	roleBuilder  = "Build_Engineer"
	roleTester   = "Test_Engineer"
	roleReporter = "Reporter"
	roleFixer    = "Debugger"

	// executorSpeaker labels tool output entries in the transcript.
	executorSpeaker = "Executor"

	// adminSpeaker opens the conversation with the task briefing.
	adminSpeaker = "Admin"
)

// TerminationSentinel ends the conversation when a turn's content ends with
// it. It is stripped from the stored report.
const TerminationSentinel = "TERMINATE"

type role struct {
	name   string
	prompt string
	tools  []llm.ToolSpec
}

var (
	runShellTool = llm.ToolSpec{
		Name:        "run_shell_command",
		Description: "Run a shell command in the job's sandbox container and return its combined output.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command to execute"}
			},
			"required": ["command"]
		}`),
	}
	writeFileTool = llm.ToolSpec{
		Name:        "write_file",
		Description: "Write content to a file inside the checked-out repository. Use this to create config files or fix code.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path relative to the repository root"},
				"content": {"type": "string", "description": "Full file content"}
			},
			"required": ["file_path", "content"]
		}`),
	}
	setImageTool = llm.ToolSpec{
		Name:        "set_sandbox_image",
		Description: "Set the container image for the sandbox (e.g. maven:3.8-openjdk-17).",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"image_name": {"type": "string", "description": "Container image reference"}
			},
			"required": ["image_name"]
		}`),
	}
)

var scannerRole = role{
	name: roleScanner,
	prompt: `You are a senior software engineer. Analyze the provided file structure and identify the technology stack, languages, and frameworks used.

Example: "Stack: Python. Framework: Flask."

Be concise. Output the detected stack clearly.

CRITICAL: you must first set the environment. Identify the container image required for this stack and call the set_sandbox_image tool as your FIRST action. Examples: python:3.11, maven:3.8-openjdk-17, node:18.`,
	tools: []llm.ToolSpec{setImageTool},
}

var builderRole = role{
	name: roleBuilder,
	prompt: `You are a DevOps build engineer. Based on the identified stack, run shell commands to BUILD the application.

Process:
1. Check for standard build files (pom.xml, package.json, requirements.txt, Dockerfile).
2. If a required config is missing, create a minimal valid one with the write_file tool.
3. Execute the build commands (e.g. mvn install, npm install) with run_shell_command.

Do not just list commands; execute them. If the build fails, try to fix it or report the failure.`,
	tools: []llm.ToolSpec{runShellTool, writeFileTool},
}

var testerRole = role{
	name: roleTester,
	prompt: `You are a QA test engineer. After the build, run shell commands to TEST the application. Focus only on running tests (unit tests, integration tests, linting).

CRITICAL: if no tests exist in the repository, create a test file with the write_file tool before running it.

Do not just list commands; execute them with run_shell_command.`,
	tools: []llm.ToolSpec{runShellTool, writeFileTool},
}

var reporterRole = role{
	name: roleReporter,
	prompt: `You are a technical reporter. Review the conversation history and generate a comprehensive CI report in markdown.

The report must include:
1. Executive Summary: high-level pass/fail status and detected stack.
2. Issues Found: errors or failures encountered.
3. Rectified Code: any fixes applied, with the corrected code.
4. Test Results: actual output of the test commands, not a summary.
5. Recommendations: suggestions for improvement.

Format:
# CI Report
[report content]

End your message with ` + TerminationSentinel + `.`,
	tools: []llm.ToolSpec{runShellTool},
}

var fixerRole = role{
	name: roleFixer,
	prompt: `You are a code debugger and auto-fixer. Analyze the failure output in the conversation.

Steps:
1. Identify the fault and explain why the step failed.
2. State "FAULT DETECTED: [reason]".
3. Apply a fix with the write_file tool; do not just propose it.
4. Re-run the failed command with run_shell_command to verify.

If you cannot fix it, explain why.`,
	tools: []llm.ToolSpec{runShellTool, writeFileTool},
}

// finalizationPrompt drives the forced-finalization request when the open
// conversation ended without a usable report.
const finalizationPrompt = `You are a technical reporter. The CI conversation below ran out of turns without producing a final report. Using only the transcript, write the complete report now.

Structure it exactly as:
1. Executive Summary
2. Issues Found
3. Rectified Code (if any)
4. Test Results
5. Recommendations

Output markdown only. Do not include ` + TerminationSentinel + `.`
