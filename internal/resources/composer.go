package resources

import (
	"strings"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
)

// Composer builds the safety message shown to the user.
type Composer struct {
	directory *Directory
}

// NewComposer binds a composer to a directory (NewDirectory when nil).
func NewComposer(directory *Directory) *Composer {
	if directory == nil {
		directory = NewDirectory()
	}
	return &Composer{directory: directory}
}

// Directory exposes the underlying directory.
func (c *Composer) Directory() *Directory { return c.directory }

// GenerateCrisisResponse scales tone and call to action with the overall
// level and appends the resource list for location.
func (c *Composer) GenerateCrisisResponse(assessment detection.CrisisAssessment, location string) string {
	var sb strings.Builder

	switch assessment.OverallLevel {
	case detection.SeverityCritical:
		sb.WriteString("I'm really concerned about your safety right now. ")
		sb.WriteString("Please call emergency services or go to the nearest emergency room immediately. ")
		sb.WriteString("You don't have to go through this alone, and people are ready to help you right now.")
	case detection.SeverityHigh:
		sb.WriteString("What you're going through sounds really serious, and it deserves attention today. ")
		sb.WriteString("Please reach out to a crisis line or someone you trust as soon as you can.")
	case detection.SeverityMedium:
		sb.WriteString("It sounds like things have been really hard lately. ")
		sb.WriteString("Talking with a therapist or a support group can help, and you deserve that support.")
	default:
		sb.WriteString("Thank you for sharing how you're feeling. ")
		sb.WriteString("If things start to feel heavier, support is always available.")
	}

	res := c.directory.GetCrisisResources(location)
	sb.WriteString("\n\nCrisis hotlines:\n")
	for _, h := range res.Hotlines {
		sb.WriteString("- ")
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString("\nSupport websites:\n")
	for _, w := range res.Websites {
		sb.WriteString("- ")
		sb.WriteString(w)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
