package server

import (
	"fmt"
	"strings"
)

// analysisPrompt asks the model for a JSON object so the handler can pass
// it through as structured data.
const analysisPrompt = `You are an expert career advisor. Perform a %s analysis of the resume below against the job description.

Resume:
%s

Job description:
%s

Respond with a single JSON object containing:
- "summary": a short overall assessment
- "strengths": a list of matching qualifications
- "gaps": a list of missing or weak qualifications
- "recommendations": a list of concrete improvements
Return only the JSON object.`

func buildAnalysisPrompt(taskType, resume, jobDescription string) string {
	task := strings.TrimSpace(taskType)
	if task == "" {
		task = "general"
	}
	return fmt.Sprintf(analysisPrompt, task, strings.TrimSpace(resume), strings.TrimSpace(jobDescription))
}
