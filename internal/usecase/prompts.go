package usecase

import (
	"fmt"
	"sort"
	"strings"

	"maestro/internal/domain"
)

// directAnswerPatterns are conversational phrases the supervisor answers
// itself instead of routing to a specialist.
var directAnswerPatterns = []string{
	"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
	"how are you", "what can you do", "help", "what agents", "list agents",
	"available agents", "who are you", "what is this", "thanks", "thank you",
}

// explicitAgentPatterns maps request phrases to the agent they name.
// Order matters: the first matching entry wins.
var explicitAgentPatterns = []struct {
	agent    string
	patterns []string
}{
	{"kubernetesexpert", []string{"kubernetes expert", "kubernetesexpert", "k8s expert"}},
	{"terraformexpert", []string{"terraform expert", "terraformexpert", "iac expert"}},
	{"pythonexpert", []string{"python expert", "pythonexpert"}},
	{"frontendexpert", []string{"frontend expert", "frontendexpert", "react expert"}},
	{"systemarchitect", []string{"architect", "systemarchitect", "system architect"}},
}

// isDirectAnswerQuery reports whether the query is small talk the
// supervisor should answer without routing.
func isDirectAnswerQuery(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, p := range directAnswerPatterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// explicitAgentRequest returns the lowercase agent name the query asks
// for by name, or "" when it names none.
func explicitAgentRequest(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, e := range explicitAgentPatterns {
		for _, p := range e.patterns {
			if strings.Contains(q, p) {
				return e.agent
			}
		}
	}
	return ""
}

const routingPromptTemplate = `You are a supervisor agent in a multi-agent system. Your ONLY job is to analyze user queries and route them to the most appropriate specialist agent. You never answer questions directly.

Available Specialist Agents:
%s

User Query: %q

Instructions:
1. Carefully analyze what the user is asking about
2. Determine which specialist agent is BEST suited to handle this specific query
3. Consider the agent's expertise and the query's domain
4. Respond with ONLY the exact agent name from the list above
5. Do NOT respond with multiple agents - choose the single BEST match

Your response (agent name only):`

// routingPrompt builds the classifier prompt for the given candidates.
func routingPrompt(query string, candidates []*domain.AgentDescriptor) string {
	return fmt.Sprintf(routingPromptTemplate, agentDescriptions(candidates), query)
}

// agentDescriptions renders one "- Name: description" line per agent.
func agentDescriptions(agents []*domain.AgentDescriptor) string {
	lines := make([]string, 0, len(agents))
	for _, a := range agents {
		lines = append(lines, fmt.Sprintf("- %s: %s", a.Name, a.Description))
	}
	return strings.Join(lines, "\n")
}

// collaboratorContext lists the enabled specialists for the supervisor's
// own prompts, sorted by name so prompts are stable.
func collaboratorContext(agents map[string]*domain.AgentDescriptor) string {
	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{"Available specialists:"}
	for _, name := range names {
		a := agents[name]
		lines = append(lines, fmt.Sprintf("- %s: %s", a.Name, a.Description))
	}
	return strings.Join(lines, "\n")
}

const supervisorDirectTemplate = `%s

User Query: %s

You are the Supervisor agent. Answer this query directly in a friendly, helpful manner. If it's a greeting, respond warmly and let them know you can help with various tasks. If they ask what you can do, briefly explain the available specialists and that you can route their questions appropriately.`

// supervisorDirectPrompt frames a direct-answer query with the list of
// enabled specialists.
func supervisorDirectPrompt(query string, collaborators map[string]*domain.AgentDescriptor) string {
	return fmt.Sprintf(supervisorDirectTemplate, collaboratorContext(collaborators), query)
}
