package indicator

import (
	"os"
	"strings"
)

// messages holds the indicator strings used when config leaves them blank.
type messages struct {
	listening string
	errorText string
}

var catalog = map[string]messages{
	"en": {listening: "Listening…", errorText: "Speech recognition error"},
	"de": {listening: "Höre zu…", errorText: "Fehler bei der Spracherkennung"},
	"es": {listening: "Escuchando…", errorText: "Error de reconocimiento de voz"},
	"fr": {listening: "À l'écoute…", errorText: "Erreur de reconnaissance vocale"},
}

func indicatorMessagesFromEnv() messages {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return indicatorMessages(value)
		}
	}
	return catalog["en"]
}

// indicatorMessages maps a POSIX locale such as "de_DE.UTF-8" to its
// catalog entry, defaulting to English.
func indicatorMessages(posixLocale string) messages {
	lang := strings.ToLower(posixLocale)
	if i := strings.IndexAny(lang, "_.@-"); i >= 0 {
		lang = lang[:i]
	}
	if msgs, ok := catalog[lang]; ok {
		return msgs
	}
	return catalog["en"]
}
