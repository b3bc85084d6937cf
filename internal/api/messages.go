package api

import "github.com/ashureev/hostbot/internal/prompt"

type cannedMessages struct {
	fallback      string
	apology       string
	notConfigured string
}

var messagesByLocale = map[string]cannedMessages{
	"no": {
		fallback:      "Hei! Jeg fikk ikke med meg meldingen din. Kan du prøve igjen?",
		apology:       "Beklager, noe gikk galt. Prøv igjen om litt.",
		notConfigured: "Denne assistenten er ikke satt opp ennå. Kontakt verten direkte.",
	},
	"en": {
		fallback:      "Hi! I didn't catch your message. Could you try again?",
		apology:       "Sorry, something went wrong. Please try again shortly.",
		notConfigured: "This assistant is not configured yet. Please contact the host directly.",
	},
	"pt": {
		fallback:      "Olá! Não recebi a sua mensagem. Pode tentar novamente?",
		apology:       "Desculpe, ocorreu um erro. Tente novamente.",
		notConfigured: "Este assistente ainda não está configurado. Contacte o anfitrião diretamente.",
	},
	"es": {
		fallback:      "¡Hola! No recibí tu mensaje. ¿Puedes intentarlo de nuevo?",
		apology:       "Lo siento, algo salió mal. Inténtalo de nuevo en un momento.",
		notConfigured: "Este asistente aún no está configurado. Contacta directamente con el anfitrión.",
	},
	"de": {
		fallback:      "Hallo! Ich habe deine Nachricht nicht erhalten. Kannst du es noch einmal versuchen?",
		apology:       "Entschuldigung, etwas ist schiefgelaufen. Bitte versuche es gleich noch einmal.",
		notConfigured: "Dieser Assistent ist noch nicht eingerichtet. Bitte wende dich direkt an den Gastgeber.",
	},
}

// messagesFor returns the canned replies for a locale tag such as "nb-NO",
// falling back to English.
func messagesFor(locale string) cannedMessages {
	if m, ok := messagesByLocale[prompt.NormalizeLocale(locale)]; ok {
		return m
	}
	return messagesByLocale["en"]
}
