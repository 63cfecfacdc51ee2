// Package i18n localizes the human-readable strings carried in socket frames
// and HTTP error bodies. Machine codes are never localized.
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys for session lifecycle notices.
const (
	KeySessionClosedByOwner = "session.closed_by_owner"
	KeySessionOwnerLeft     = "session.owner_left"
	KeyJoinRejectedClosed   = "join.rejected_closed"
	KeyMapDeleted           = "map.deleted"
)

// errorKeyPrefix namespaces per-code error messages in the catalog.
const errorKeyPrefix = "error."

var supported = []language.Tag{
	language.AmericanEnglish,
	language.BrazilianPortuguese,
}

var entries = map[language.Tag]map[string]string{
	language.AmericanEnglish: {
		KeySessionClosedByOwner: "The DM has closed the map.",
		KeySessionOwnerLeft:     "The DM has left the map.",
		KeyJoinRejectedClosed:   "The map %s is not open yet.",
		KeyMapDeleted:           "The DM has deleted the map.",

		errorKeyPrefix + "UNAUTHENTICATED":     "User not logged in",
		errorKeyPrefix + "INVALID_ARGUMENT":    "Invalid request",
		errorKeyPrefix + "NOT_FOUND":           "Map not found",
		errorKeyPrefix + "NOT_FOUND.user":      "User not found",
		errorKeyPrefix + "NOT_FOUND.campaign":  "Campaign not found",
		errorKeyPrefix + "FORBIDDEN":           "You are not allowed to do that on this map",
		errorKeyPrefix + "NOT_JOINED":          "Join the map before sending updates",
		errorKeyPrefix + "SESSION_CLOSED":      "The map is closed",
		errorKeyPrefix + "OWNER_OFFLINE":       "The DM is not connected",
		errorKeyPrefix + "PERSISTENCE_FAILURE": "The map could not be saved, try again",
		errorKeyPrefix + "UNKNOWN":             "Something went wrong",
	},
	language.BrazilianPortuguese: {
		KeySessionClosedByOwner: "O mestre fechou o mapa.",
		KeySessionOwnerLeft:     "O mestre saiu do mapa.",
		KeyJoinRejectedClosed:   "O mapa %s ainda não está aberto.",
		KeyMapDeleted:           "O mestre apagou o mapa.",

		errorKeyPrefix + "UNAUTHENTICATED":     "Usuário não conectado",
		errorKeyPrefix + "INVALID_ARGUMENT":    "Requisição inválida",
		errorKeyPrefix + "NOT_FOUND":           "Mapa não encontrado",
		errorKeyPrefix + "NOT_FOUND.user":      "Usuário não encontrado",
		errorKeyPrefix + "NOT_FOUND.campaign":  "Campanha não encontrada",
		errorKeyPrefix + "FORBIDDEN":           "Você não tem permissão para isso neste mapa",
		errorKeyPrefix + "NOT_JOINED":          "Entre no mapa antes de enviar alterações",
		errorKeyPrefix + "SESSION_CLOSED":      "O mapa está fechado",
		errorKeyPrefix + "OWNER_OFFLINE":       "O mestre não está conectado",
		errorKeyPrefix + "PERSISTENCE_FAILURE": "Não foi possível salvar o mapa, tente novamente",
		errorKeyPrefix + "UNKNOWN":             "Algo deu errado",
	},
}

var (
	defaultCatalog = mustBuildCatalog()
	matcher        = language.NewMatcher(supported)
)

func mustBuildCatalog() *catalog.Builder {
	builder := catalog.NewBuilder(catalog.Fallback(language.AmericanEnglish))
	for tag, messages := range entries {
		for key, msg := range messages {
			if err := builder.SetString(tag, key, msg); err != nil {
				panic(fmt.Sprintf("i18n: register %s/%s: %v", tag, key, err))
			}
		}
	}
	return builder
}

// Supported returns the locales with a full catalog.
func Supported() []language.Tag {
	out := make([]language.Tag, len(supported))
	copy(out, supported)
	return out
}

// Match picks the best supported locale for an Accept-Language header value.
// Unknown or malformed headers resolve to en-US.
func Match(acceptLanguage string) language.Tag {
	acceptLanguage = strings.TrimSpace(acceptLanguage)
	if acceptLanguage == "" {
		return supported[0]
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return supported[0]
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return supported[0]
	}
	return supported[index]
}

// Localizer renders catalog messages for one locale.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// For returns a Localizer bound to tag.
func For(tag language.Tag) Localizer {
	return Localizer{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(defaultCatalog)),
	}
}

// Default returns the en-US Localizer.
func Default() Localizer {
	return For(supported[0])
}

// Locale returns the BCP 47 tag of the localizer.
func (l Localizer) Locale() string {
	return l.tag.String()
}

// Text renders the message for key with optional printf arguments.
func (l Localizer) Text(key string, args ...any) string {
	if l.printer == nil {
		l = Default()
	}
	return l.printer.Sprintf(key, args...)
}

// ErrorMessage renders the user-facing message for a domain error code.
// A resource narrows the message when the catalog has a variant for it.
func (l Localizer) ErrorMessage(code string, resource ...string) string {
	key := errorKeyPrefix + strings.TrimSpace(code)
	if len(resource) > 0 && strings.TrimSpace(resource[0]) != "" {
		variant := key + "." + strings.TrimSpace(resource[0])
		if _, ok := entries[language.AmericanEnglish][variant]; ok {
			return l.Text(variant)
		}
	}
	if _, ok := entries[language.AmericanEnglish][key]; !ok {
		key = errorKeyPrefix + "UNKNOWN"
	}
	return l.Text(key)
}
