package llm

import (
	"fmt"
	"strings"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/oracle"
)

const maxDuplicateCandidates = 5
const maxCandidateDescription = 200

const classifySystemPrompt = `You decide whether a chat message addressed to the support bot is a legitimate support request.

Support requests: technical issues, problems or requests for help; system errors, access issues or broken functionality; help with software, hardware or services; bug reports.
NOT support requests: casual conversation, greetings, meeting scheduling, general announcements, and bot notifications about tickets that already exist.

The user mentioned the bot, so treat the message as a support request unless it is clearly only a greeting or chatter.

Respond with JSON only:
{"is_support_request": boolean, "confidence": number between 0 and 1, "reasoning": "brief explanation"}`

const summarizeSystemPrompt = `You are a support ticket summarizer. Convert an unstructured support message into a clear, professional ticket.

Respond with JSON only:
{"title": "brief professional title, at most 80 characters", "description": "detailed description of the issue", "problem_statement": "clear problem statement", "user_impact": "impact on the user or workflow", "urgency_level": "High, Medium or Low"}`

const categorizeSystemPrompt = `Categorize and prioritize a support ticket.

Categories: hardware, software, network, access, email, printing, security, other

Priority:
- "1": Critical. System down, security breach, critical business impact
- "2": High. Major functionality affected, multiple users impacted
- "3": Moderate. Minor issue, single user affected, workaround available
- "4": Low. Minor issue, no immediate impact
- "5": Planning. Future planning, no immediate action needed

Assignment groups:
- IT Support (general issues)
- Network Team (connectivity, VPN, infrastructure)
- Security Team (access, permissions, security)
- Application Support (software-specific issues)

Respond with JSON only:
{"category": "category_name", "subcategory": "specific subcategory", "priority": "1-5", "urgency": "1-4", "assignment_group": "team"}`

const duplicateSystemPrompt = `You detect duplicate support requests. Decide whether the new request restates one of the existing tickets.

Look for the same issue or problem, the same requester, similar technical details, and notification messages that are not real requests. If the message is a ticket creation confirmation, carries ticket numbers, or is clearly a notification, mark it as a duplicate.

Respond with JSON only:
{"is_duplicate": boolean, "confidence": number between 0 and 1, "reasoning": "explanation", "similarity_score": number between 0 and 1, "ticket_number": "number of the matching ticket, or empty"}`

func buildClassifyPrompt(msg RawMessage) string {
	return fmt.Sprintf("User: %s\nMessage: %s", senderLabel(msg), msg.Text)
}

func buildSummarizePrompt(msg RawMessage) string {
	return fmt.Sprintf("User: %s\nOriginal message: %s", senderLabel(msg), msg.Text)
}

func buildCategorizePrompt(s Summary) string {
	return fmt.Sprintf("Title: %s\nDescription: %s\nProblem: %s", s.Title, s.Description, s.ProblemStatement)
}

func buildDuplicatePrompt(text string, candidates []Ticket) string {
	var b strings.Builder
	b.WriteString("NEW REQUEST:\n")
	b.WriteString(text)
	b.WriteString("\n\nEXISTING TICKETS:\n")
	if len(candidates) > maxDuplicateCandidates {
		candidates = candidates[:maxDuplicateCandidates]
	}
	for _, t := range candidates {
		fmt.Fprintf(&b, "\nTicket: %s\nTitle: %s\nDescription: %s\nState: %s\nCreated: %s\n",
			t.Number, t.Title, oracle.Truncate(t.Description, maxCandidateDescription), t.State, t.CreatedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func senderLabel(msg RawMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	if msg.SenderEmail != "" {
		return msg.SenderEmail
	}
	return msg.SenderID
}
