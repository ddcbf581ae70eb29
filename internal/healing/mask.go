package healing

import "strings"

// maxFailureMessageLen is the cap spec'd for the failure message appended to
// the LLM session (§4.5 step 2).
const maxFailureMessageLen = 2000

// maskAndTruncate redacts every credential value appearing verbatim in msg
// and truncates the result to maxFailureMessageLen, so a failure message
// appended to the LLM session (or surfaced in a final error) never leaks a
// secret and never blows the model's context budget.
func maskAndTruncate(msg string, credentials map[string]string) string {
	masked := msg
	for _, v := range credentials {
		if v == "" {
			continue
		}
		masked = strings.ReplaceAll(masked, v, "[REDACTED]")
	}
	if len(masked) > maxFailureMessageLen {
		masked = masked[:maxFailureMessageLen] + "...(truncated)"
	}
	return masked
}

// samplePayload renders payload for inclusion in the repair prompt, capped
// to maxChars (§4.5 step 3: "sampled payload <= contextLength/10 chars").
func samplePayload(rendered string, maxChars int) string {
	if len(rendered) <= maxChars {
		return rendered
	}
	return rendered[:maxChars] + "...(truncated)"
}

// credentialNames returns the available credential keys (never values), for
// the repair prompt to reference without exposing secrets.
func credentialNames(credentials map[string]string) []string {
	names := make([]string, 0, len(credentials))
	for k := range credentials {
		names = append(names, k)
	}
	return names
}
