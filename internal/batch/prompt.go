package batch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
)

// StructuredResponse is the shape the backend must return.
type StructuredResponse struct {
	Cues []cue.TranslatedCue `json:"cues" jsonschema:"required"`
}

// BuildSystemPrompt renders the translation instructions and the
// structural rules every batch must obey.
func BuildSystemPrompt(sourceLang, targetLang language.Tag) string {
	src := languageName(sourceLang)
	dst := languageName(targetLang)

	var prompt strings.Builder
	prompt.WriteString("You are a professional subtitle translator. Translate subtitle cues from " + src + " to " + dst + ".\n\n")

	prompt.WriteString("=== INPUT FORMAT ===\n")
	prompt.WriteString("The user message is a JSON array of cues: [{\"id\": \"...\", \"text\": \"...\"}].\n")
	prompt.WriteString("Cue text may contain placeholder tokens shaped like ~p0:, ~pa:, ~p1f: standing in for formatting markup.\n")

	prompt.WriteString("\n=== HARD RULES ===\n")
	prompt.WriteString("1. Translate each cue independently. Do NOT merge, split, reorder, or drop cues.\n")
	prompt.WriteString("2. Output exactly one translated cue per input cue, with the same id.\n")
	prompt.WriteString("3. Preserve every placeholder token exactly as written. Never invent, drop, or alter tokens.\n")
	prompt.WriteString("4. If an input text is empty, output an empty string for that id.\n")
	prompt.WriteString("5. Keep translations natural in " + dst + " and appropriate for on-screen reading.\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY a JSON object: {\"cues\": [{\"id\": \"...\", \"text\": \"...\"}]}.\n")
	prompt.WriteString("No explanations, no markdown, no additional fields.\n")

	return prompt.String()
}

// BuildUserPrompt marshals the batch items as the user message.
func BuildUserPrompt(items []Item) (string, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal batch items: %w", err)
	}
	return string(payload), nil
}

// languageName renders an English language name for prompts, falling
// back to the raw tag for unlisted languages.
func languageName(tag language.Tag) string {
	if tag == language.Und {
		return "the source language"
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return tag.String()
	}
	return name
}

// ResponseSchema reflects the structured-response JSON schema embedded
// in each backend request.
func ResponseSchema() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(StructuredResponse{})
	raw, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(err)
	}
	ensureStrictObject(m)
	return m
}

// ensureStrictObject marks every object in the schema as closed and
// fully required, which strict structured-output modes demand.
func ensureStrictObject(schema map[string]interface{}) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]interface{}); ok {
				ensureStrictObject(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		ensureStrictObject(items)
	}
}
