// Package knowledge turns fetched source pages into structured profile facts.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"

	"github.com/ashureev/hostbot/internal/domain"
	"github.com/ashureev/hostbot/internal/fetch"
	"github.com/ashureev/hostbot/internal/llm"
	"github.com/ashureev/hostbot/internal/prompt"
)

// ErrExtractionParse marks model output that does not match the schema.
var ErrExtractionParse = errors.New("extraction parse failure")

const extractionSystem = "You extract facts about a guest accommodation from its web pages. " +
	"You answer with a single JSON object and nothing else."

// Result is either Parsed facts or the Unparsed raw model text.
type Result struct {
	facts    *domain.Facts
	raw      string
	parseErr error
}

// Parsed returns the facts when the model output matched the schema.
func (r Result) Parsed() (*domain.Facts, bool) {
	return r.facts, r.facts != nil
}

// Unparsed returns the raw model text when it did not match the schema.
func (r Result) Unparsed() (string, bool) {
	return r.raw, r.facts == nil
}

// Raw returns the model output verbatim regardless of the outcome.
func (r Result) Raw() string {
	return r.raw
}

// Err describes why the output was not parsed. It is nil for Parsed results.
func (r Result) Err() error {
	return r.parseErr
}

// Extractor asks the completion API to extract facts from sources.
type Extractor struct {
	llm llm.Completer
}

// NewExtractor creates an Extractor.
func NewExtractor(completer llm.Completer) *Extractor {
	return &Extractor{llm: completer}
}

// Extract runs one extraction at temperature zero. A completion failure is
// returned as an error; unparsable output is not an error but an Unparsed
// result. Parsed facts have map links filled for the given city.
func (e *Extractor) Extract(ctx context.Context, docs []fetch.Document, city string) (Result, error) {
	turns := []domain.Turn{
		{Role: domain.RoleSystem, Content: extractionSystem},
		{Role: domain.RoleSystem, Content: Instruction()},
		{Role: domain.RoleUser, Content: FormatSources(docs)},
	}

	reply, err := e.llm.Complete(ctx, turns, 0)
	if err != nil {
		return Result{}, fmt.Errorf("extract facts: %w", err)
	}

	facts, err := Parse(reply.Content)
	if err != nil {
		return Result{raw: reply.Content, parseErr: err}, nil
	}
	ApplyMapLinks(facts, city)
	return Result{facts: facts, raw: reply.Content}, nil
}

// Instruction is the extraction directive enumerating the target schema.
func Instruction() string {
	var b strings.Builder
	b.WriteString("Extract the following information from the sources and return ONLY a JSON object with exactly this shape. ")
	b.WriteString("Use null for any scalar field that is not stated in the sources and [] for empty lists. ")
	b.WriteString("Do not invent facts. Do not add keys. Do not wrap the JSON in prose.\n\n")
	b.WriteString(`{
  "business_name": string|null,
  "address": string|null,
  "check_in": {"time": string|null, "instructions": string|null},
  "check_out": {"time": string|null, "instructions": string|null},
  "wifi": {"network": string|null, "password": string|null},
  "house_rules": [string],
  "parking": {"available": boolean|null, "instructions": string|null},
  "amenities": [string],
  "faq": [{"question": string, "answer": string}],
  "nearby_places": {
`)
	for i, category := range domain.NearbyCategories {
		sep := ","
		if i == len(domain.NearbyCategories)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "    %q: [{\"name\": string, \"reason\": string, \"maps_link\": string}]%s\n", category, sep)
	}
	b.WriteString("  }\n}\n\n")
	b.WriteString("For every nearby place, maps_link must be a Google Maps search URL for the place name and city.")
	return b.String()
}

// FormatSources joins documents into one message with per-source delimiters.
func FormatSources(docs []fetch.Document) string {
	var b strings.Builder
	for i, doc := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== SOURCE %d: %s ===\n%s", i+1, doc.URL, doc.Text)
	}
	return b.String()
}

// Parse decodes model output strictly as Facts. A single surrounding markdown
// code fence is tolerated; any other text around the object is not.
func Parse(text string) (*domain.Facts, error) {
	body := strings.TrimSpace(stripFence(text))
	if !strings.HasPrefix(body, "{") {
		return nil, fmt.Errorf("%w: output is not a JSON object", ErrExtractionParse)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	var facts domain.Facts
	if err := dec.Decode(&facts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrExtractionParse)
	}

	// An object with no schema keys at all, such as {} or a refusal, is not
	// an extraction even though every field is optional.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
	}
	if !lo.SomeBy(factKeys, func(k string) bool {
		_, ok := keys[k]
		return ok
	}) {
		return nil, fmt.Errorf("%w: object has none of the schema keys", ErrExtractionParse)
	}
	return &facts, nil
}

// factKeys are the top-level keys of the extraction schema.
var factKeys = []string{
	"business_name", "address", "check_in", "check_out", "wifi",
	"house_rules", "parking", "amenities", "faq", "nearby_places",
}

func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return text
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "```"), "```")
	// Drop an info string such as "json" on the opening fence line.
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.ContainsAny(inner[:nl], "{[") {
		inner = inner[nl+1:]
	}
	return inner
}

// EnsureMapLink fills a missing maps_link from the place name and city.
func EnsureMapLink(place domain.NearbyPlace, city string) domain.NearbyPlace {
	if strings.TrimSpace(place.MapsLink) != "" || strings.TrimSpace(place.Name) == "" {
		return place
	}
	place.MapsLink = prompt.MapLink(place.Name, city)
	return place
}

// ApplyMapLinks runs EnsureMapLink over every nearby-place category.
func ApplyMapLinks(facts *domain.Facts, city string) {
	for category, places := range facts.NearbyPlaces {
		facts.NearbyPlaces[category] = lo.Map(places, func(place domain.NearbyPlace, _ int) domain.NearbyPlace {
			return EnsureMapLink(place, city)
		})
	}
}
