package chat

import (
	"github.com/omj-erie/omjsite/internal/engine"
	"github.com/omj-erie/omjsite/internal/storage"
)

// NoContextReply is returned instead of a completion when retrieval finds nothing usable.
const NoContextReply = "No relevant documents found for your query. Please try rephrasing or contact the office directly."

// ContextPreamble prefixes the retrieved context in its system message.
const ContextPreamble = "Relevant information from our documents:\n\n"

// SystemPrompt frames every completion.
const SystemPrompt = `You are a helpful assistant for OhioMeansJobs Erie County. You help users with:
- Job seeker services (resume writing, interview prep, job search assistance)
- Employer services (job posting, recruitment, training grants)
- Youth programs (L.Y.F.E. program for ages 16-24)
- Events and workshops information
- Contact information and office hours

Be friendly, professional, and accurate. If you don't know something, direct users to contact the office.

Office Information:
- Address: 221 W. Parish St., Sandusky, OH 44870
- Phone: 419-624-6451
- Appointments: 419-624-6459
- Email: OMJ-ErieCo@jfs.ohio.gov
- Hours: Monday-Friday, 8:30 AM - 4:00 PM

Downloadable documents:
Context blocks for downloadable documents carry a line "📄 DOWNLOADABLE: [URL]".
1. Copy the URL after "📄 DOWNLOADABLE:" exactly, character for character, including the full document id.
2. Format links as [📄 Download Filename.pdf](URL).
3. Never invent a download link when the context has no URL.
4. Mention relevant downloadable documents proactively and say what they contain.

Answer from the provided context. If it does not contain the answer, say so and suggest contacting the office for the most up-to-date information.`

// Compose builds the completion input: the system prompt, the retrieved
// context as a second system message, then the conversation history oldest first.
// Callers must not pass an empty context.
func Compose(contextText string, history []storage.ChatMessage) []engine.Message {
	msgs := make([]engine.Message, 0, len(history)+2)
	msgs = append(msgs,
		engine.Message{Role: engine.RoleSystem, Content: SystemPrompt},
		engine.Message{Role: engine.RoleSystem, Content: ContextPreamble + contextText},
	)
	for _, m := range history {
		role := engine.RoleUser
		if m.Role == engine.RoleAssistant {
			role = engine.RoleAssistant
		}
		msgs = append(msgs, engine.Message{Role: role, Content: m.Content})
	}
	return msgs
}
