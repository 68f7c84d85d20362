// ABOUTME: Extracts the best text candidate and image references from a message.
// ABOUTME: Longest normalized candidate wins; images dedupe by exact string.

package content

import (
	"encoding/json"
	"strings"
)

// defaultImageMIME is assumed for image parts that carry no explicit type.
const defaultImageMIME = "image/png"

// Extracted is the normalized content of one logical message.
type Extracted struct {
	Text   string
	Images []string
}

// Extract collects candidate text strings and image references from a
// message object and its enclosing payload, both heterogeneous JSON. All
// candidate sources are tried; the single longest non-empty candidate
// (after whitespace normalization) wins. The same logical message is often
// represented redundantly across several shapes, and the longest rendering
// is taken as the most complete one.
func Extract(message, payload json.RawMessage) Extracted {
	var msg, pay map[string]any
	if len(message) > 0 {
		_ = json.Unmarshal(message, &msg)
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &pay)
	}
	return extract(msg, pay)
}

func extract(msg, pay map[string]any) Extracted {
	var candidates []string
	var images []string

	if msg != nil {
		candidates, images = collectFromMessage(msg, candidates, images)
		candidates = appendFieldCandidates(candidates, msg, "text", "output_text", "delta")
	}
	if pay != nil {
		candidates = appendFieldCandidates(candidates, pay, "text", "output_text", "delta")
	}

	return Extracted{
		Text:   longestCandidate(candidates),
		Images: dedupe(images),
	}
}

// collectFromMessage walks the structured shapes on the message object:
// the content array (string or part list), and nested output[] entries.
func collectFromMessage(msg map[string]any, candidates, images []string) ([]string, []string) {
	switch c := msg["content"].(type) {
	case string:
		candidates = append(candidates, c)
	case []any:
		candidates, images = collectFromParts(c, candidates, images)
	}

	if output, ok := msg["output"].([]any); ok {
		for _, entry := range output {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			candidates = appendFieldCandidates(candidates, m, "text")
			if parts, ok := m["content"].([]any); ok {
				candidates, images = collectFromParts(parts, candidates, images)
			}
		}
	}

	return candidates, images
}

// collectFromParts handles a structured content array. Each part is tried
// individually, and the concatenation of all per-part texts is offered as a
// further candidate so multi-part messages can win over any single part.
func collectFromParts(parts []any, candidates, images []string) ([]string, []string) {
	var joined []string

	for _, entry := range parts {
		part, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		switch stringField(part, "type") {
		case "image", "input_image":
			if img := imageFromDataPart(part); img != "" {
				images = append(images, img)
			}
			continue
		case "image_url":
			if img := imageFromURLPart(part); img != "" {
				images = append(images, img)
			}
			continue
		}

		for _, field := range []string{"text", "output_text", "input_text", "content"} {
			if v := stringField(part, field); v != "" {
				candidates = append(candidates, v)
				joined = append(joined, v)
				break
			}
		}
	}

	if len(joined) > 1 {
		candidates = append(candidates, strings.Join(joined, "\n"))
	}
	return candidates, images
}

// imageFromDataPart resolves an image/input_image part to a data URI.
func imageFromDataPart(part map[string]any) string {
	data := stringField(part, "data")
	if data == "" {
		data = stringField(part, "content")
	}
	if data == "" {
		return ""
	}
	if strings.HasPrefix(data, "data:") {
		return data
	}
	mime := stringField(part, "mimeType")
	if mime == "" {
		mime = stringField(part, "media_type")
	}
	if mime == "" {
		mime = defaultImageMIME
	}
	return "data:" + mime + ";base64," + data
}

// imageFromURLPart resolves an image_url part to its direct URL.
func imageFromURLPart(part map[string]any) string {
	switch u := part["image_url"].(type) {
	case string:
		return u
	case map[string]any:
		return stringField(u, "url")
	}
	return stringField(part, "url")
}

// appendFieldCandidates appends the string values of the named fields.
func appendFieldCandidates(candidates []string, m map[string]any, fields ...string) []string {
	for _, field := range fields {
		if v := stringField(m, field); v != "" {
			candidates = append(candidates, v)
		}
	}
	return candidates
}

// longestCandidate returns the candidate with the longest normalized form.
// Earlier candidates win ties.
func longestCandidate(candidates []string) string {
	best := ""
	bestLen := 0
	for _, c := range candidates {
		norm := NormalizeWhitespace(c)
		if len(norm) > bestLen {
			best = norm
			bestLen = len(norm)
		}
	}
	return best
}

// NormalizeWhitespace trims and collapses runs of whitespace to single
// spaces. Shared with the send deduplicator so both sides agree on what
// counts as the same text.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// dedupe removes exact-string duplicates preserving first-appearance order.
func dedupe(images []string) []string {
	if len(images) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(images))
	out := images[:0]
	for _, img := range images {
		if !seen[img] {
			seen[img] = true
			out = append(out, img)
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
