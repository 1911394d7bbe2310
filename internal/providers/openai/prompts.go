package openai

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	proposalSystemPrompt = "You are a professional business proposal writer. Create compelling, personalized business proposals that help close deals. Focus on value proposition and benefits for the client."
	emailSystemPrompt    = "You are an expert email copywriter. Write professional, engaging emails that get responses. Keep emails concise and actionable. Always include a clear subject line at the start."
	customSystemPrompt   = "You are a helpful AI assistant specialized in business communication and content creation."
)

// Email kinds accepted by EmailMessages.
const (
	EmailIntroduction   = "introduction"
	EmailFollowUp       = "follow_up"
	EmailMeetingRequest = "meeting_request"
	EmailCustom         = "custom"
)

type ProposalInput struct {
	BusinessName  string `json:"business_name"`
	BusinessType  string `json:"business_type"`
	Address       string `json:"address"`
	Website       string `json:"website"`
	CustomPrompt  string `json:"custom_prompt"`
	SenderName    string `json:"sender_name"`
	SenderCompany string `json:"sender_company"`
	Services      string `json:"services"`
}

type EmailInput struct {
	BusinessName    string `json:"business_name"`
	ContactName     string `json:"contact_name"`
	EmailType       string `json:"email_type"`
	CustomPrompt    string `json:"custom_prompt"`
	PreviousContext string `json:"previous_context"`
	SenderName      string `json:"sender_name"`
	SenderCompany   string `json:"sender_company"`
	Subject         string `json:"subject"`
}

var subjectLine = regexp.MustCompile(`(?i)subject:\s*(.+?)(?:\n|$)`)

func ProposalMessages(in ProposalInput) []Message {
	prompt := strings.TrimSpace(in.CustomPrompt)
	if prompt == "" {
		var b strings.Builder
		fmt.Fprintf(&b, "Create a professional business proposal for the following business:\n\n")
		fmt.Fprintf(&b, "Business Name: %s\n", in.BusinessName)
		fmt.Fprintf(&b, "Business Type: %s\n", orUnspecified(in.BusinessType))
		fmt.Fprintf(&b, "Location: %s\n", orUnspecified(in.Address))
		fmt.Fprintf(&b, "Website: %s\n\n", orUnspecified(in.Website))
		if in.SenderName != "" {
			fmt.Fprintf(&b, "Proposal from: %s\n", in.SenderName)
		}
		if in.SenderCompany != "" {
			fmt.Fprintf(&b, "Company: %s\n", in.SenderCompany)
		}
		if in.Services != "" {
			fmt.Fprintf(&b, "Services to offer: %s\n", in.Services)
		}
		b.WriteString("\nPlease create a professional proposal with the following sections:\n")
		b.WriteString("1. Executive Summary\n2. Understanding of Their Business\n3. Proposed Solutions\n")
		b.WriteString("4. Benefits & Value Proposition\n5. Pricing Options (leave placeholders)\n6. Next Steps\n7. Call to Action\n\n")
		b.WriteString("Make it personalized and compelling.")
		prompt = b.String()
	}
	return []Message{
		{Role: "system", Content: proposalSystemPrompt},
		{Role: "user", Content: prompt},
	}
}

// EmailMessages builds the prompt for an outreach email.
func EmailMessages(in EmailInput) []Message {
	contact := ""
	if in.ContactName != "" {
		contact = fmt.Sprintf(" (Contact: %s)", in.ContactName)
	}

	var prompt string
	switch in.EmailType {
	case EmailIntroduction:
		prompt = fmt.Sprintf("Write a professional introduction email to %s%s.\nThe email should:\n"+
			"- Introduce %s and %s\n- Express interest in potential collaboration\n"+
			"- Be concise and professional\n- Include a clear call to action",
			in.BusinessName, contact, orDefault(in.SenderName, "myself"), orDefault(in.SenderCompany, "our company"))
	case EmailFollowUp:
		previous := ""
		if in.PreviousContext != "" {
			previous = "Previous context: " + in.PreviousContext + "\n"
		}
		prompt = fmt.Sprintf("Write a professional follow-up email to %s%s.\n%sThe email should:\n"+
			"- Reference previous communication\n- Gently remind of pending items\n"+
			"- Be polite and professional\n- Include a call to action",
			in.BusinessName, contact, previous)
	case EmailMeetingRequest:
		prompt = fmt.Sprintf("Write a professional meeting request email to %s%s.\nThe email should:\n"+
			"- Clearly state the purpose of the meeting\n- Suggest a few time options\n"+
			"- Be respectful of their time\n- Include a clear call to action",
			in.BusinessName, contact)
	default:
		prompt = orDefault(strings.TrimSpace(in.CustomPrompt), "Write a professional email to "+in.BusinessName)
	}

	return []Message{
		{Role: "system", Content: emailSystemPrompt},
		{Role: "user", Content: prompt},
	}
}

func CustomMessages(prompt string) []Message {
	return []Message{
		{Role: "system", Content: customSystemPrompt},
		{Role: "user", Content: prompt},
	}
}

// SplitSubject pulls a leading "Subject:" line out of generated email text.
// The fallback subject is used when the model did not write one.
func SplitSubject(content, fallback string) (string, string) {
	match := subjectLine.FindStringSubmatchIndex(content)
	if match == nil {
		return fallback, strings.TrimSpace(content)
	}
	subject := strings.TrimSpace(content[match[2]:match[3]])
	body := strings.TrimSpace(content[:match[0]] + content[match[1]:])
	return subject, body
}

func orUnspecified(value string) string {
	return orDefault(value, "Not specified")
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
