package telegram

import (
	"fmt"
	"strings"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/pipeline"
)

func pipelineRequest(image []byte, caption string, chatID int64) pipeline.Request {
	return pipeline.Request{
		Image:     image,
		MediaType: "image/jpeg", // Telegram photos are always re-encoded to JPEG
		Query:     strings.TrimSpace(caption),
		SessionID: sessionKey(chatID),
	}
}

// formatResult renders a pipeline result as a chat message.
func formatResult(res *model.PipelineResult) string {
	if res.Rejected {
		return res.RejectionMessage
	}

	var b strings.Builder

	if res.Equipment != nil {
		fmt.Fprintf(&b, "🔧 %s %s", title(res.Equipment.Manufacturer), strings.ToUpper(res.Equipment.Model))
		if res.Equipment.Serial != "" {
			fmt.Fprintf(&b, " (s/n %s)", res.Equipment.Serial)
		}
		if res.EquipmentCreated {
			b.WriteString(" — new to me, added to the registry")
		}
		b.WriteString("\n\n")
	}

	if res.Validation != nil {
		cand := res.Validation.Candidate
		b.WriteString("I found a possible document, but I'm not sure it's the right one:\n")
		if cand.Title != "" {
			b.WriteString("📄 " + cand.Title + "\n")
		}
		if cand.URL != "" {
			b.WriteString(cand.URL + "\n")
		}
		b.WriteString("\nIs this the right document for your unit?")
		return b.String()
	}

	if res.Answer != "" {
		b.WriteString(res.Answer)
		if res.Analyze != nil && res.Analyze.Analyze != nil && len(res.Analyze.Analyze.Citations) > 0 {
			b.WriteString("\n\nSources:")
			for _, c := range res.Analyze.Analyze.Citations {
				b.WriteString("\n• " + c)
			}
		}
	}

	if res.Note != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("ℹ️ " + res.Note)
	}

	if b.Len() == 0 {
		return "I couldn't produce an answer for that photo. Try a clearer shot of the nameplate."
	}
	return b.String()
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
