// Package prompt renders the system instruction that seeds every session.
package prompt

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/ashureev/hostbot/internal/domain"
)

// PendingKnowledge replaces the knowledge section until a profile has been ingested.
const PendingKnowledge = "No property information has been loaded yet. An ingestion step is pending; " +
	"tell the guest you cannot answer property-specific questions right now and suggest contacting the host."

const mapsSearchBase = "https://www.google.com/maps/search/?api=1&query="

// SupportedLanguages maps locale tags to the language names used in the ruleset.
var SupportedLanguages = map[string]string{
	"no": "Norwegian",
	"en": "English",
	"pt": "Brazilian Portuguese",
	"es": "Spanish",
	"de": "German",
}

// supportedOrder keeps the ruleset text stable across runs.
var supportedOrder = []string{"no", "en", "pt", "es", "de"}

// MapLink builds the map-search URL for a place name in a city.
func MapLink(name, city string) string {
	query := strings.TrimSpace(strings.TrimSpace(name) + " " + strings.TrimSpace(city))
	return mapsSearchBase + url.QueryEscape(query)
}

// Compose renders the system instruction for a profile. It is pure.
func Compose(p *domain.Profile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the digital host for %q.\n", p.Name)
	fmt.Fprintf(&b, "Primary language: %s (%s).\n", languageName(p.Locale), p.Locale)
	if p.City != "" {
		fmt.Fprintf(&b, "Location: %s.\n", p.City)
	}

	b.WriteString("\nPROPERTY KNOWLEDGE:\n")
	b.WriteString(renderKnowledge(p.Knowledge))
	b.WriteString("\n\nRULES:\n")
	b.WriteString("- Be concise: short, friendly answers a guest can read on a phone.\n")
	fmt.Fprintf(&b, "- Whenever you recommend a named physical place, always include a map link of the form %s "+
		"(place name and city, URL-encoded). Default city: %s.\n",
		mapsSearchBase+"<place+name>+<city>", cityOrUnknown(p.City))
	b.WriteString("- Never claim capabilities that the knowledge above does not show, such as making bookings, " +
		"payments or reservations.\n")
	fmt.Fprintf(&b, "- Reply in %s unless the guest writes in %s; in that case reply in the guest's language.\n",
		languageName(p.Locale), otherLanguages(p.Locale))

	return b.String()
}

func renderKnowledge(k domain.Knowledge) string {
	switch {
	case k.Facts != nil:
		data, err := json.MarshalIndent(k.Facts, "", "  ")
		if err != nil {
			return PendingKnowledge
		}
		return string(data)
	case k.Text != "":
		return k.Text
	default:
		return PendingKnowledge
	}
}

func languageName(locale string) string {
	if name, ok := SupportedLanguages[NormalizeLocale(locale)]; ok {
		return name
	}
	if locale == "" {
		return "English"
	}
	return locale
}

func otherLanguages(locale string) string {
	primary := NormalizeLocale(locale)
	names := make([]string, 0, len(supportedOrder))
	for _, tag := range supportedOrder {
		if tag == primary {
			continue
		}
		names = append(names, SupportedLanguages[tag])
	}
	return strings.Join(names, ", ")
}

// NormalizeLocale reduces "nb-NO" or "pt_BR" to a bare language tag.
func NormalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	switch locale {
	case "nb", "nn":
		return "no"
	}
	return locale
}

func cityOrUnknown(city string) string {
	if city == "" {
		return "unknown"
	}
	return city
}
