// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// MessageKey identifies a user facing message.
type MessageKey string

const (
	MsgBadDiscoveryURL    MessageKey = "openid.error.bad-discovery-url"
	MsgNoCredentials      MessageKey = "openid.error.no-credentials"
	MsgTokenMismatch      MessageKey = "openid.error.token-mismatch"
	MsgSomethingBroke     MessageKey = "openid.error.something-broke"
	MsgAuthorized         MessageKey = "openid.error.authorized"
	MsgProviderError      MessageKey = "openid.error.provider"
	MsgMissingParameters  MessageKey = "openid.error.missing-parameters"
	MsgInvalidOwnerID     MessageKey = "openid.error.invalid-owner-id"
	MsgMissingCredentials MessageKey = "openid.warn.missing-credentials"
)

var translations = map[language.Tag]map[MessageKey]string{
	language.English: {
		MsgBadDiscoveryURL:    "Bad discovery URL",
		MsgNoCredentials:      "No credentials found",
		MsgTokenMismatch:      "Token mismatch",
		MsgSomethingBroke:     "Something broke",
		MsgAuthorized:         "Authorized, you can close this window",
		MsgProviderError:      "ERROR: %s: %s",
		MsgMissingParameters:  "Missing parameters: %s",
		MsgInvalidOwnerID:     "Invalid id: %s",
		MsgMissingCredentials: "Missing credentials",
	},
	language.French: {
		MsgBadDiscoveryURL:    "URL de découverte invalide",
		MsgNoCredentials:      "Aucun identifiant trouvé",
		MsgTokenMismatch:      "Jeton non concordant",
		MsgSomethingBroke:     "Une erreur est survenue",
		MsgAuthorized:         "Autorisé, vous pouvez fermer cette fenêtre",
		MsgProviderError:      "ERREUR : %s : %s",
		MsgMissingParameters:  "Paramètres manquants : %s",
		MsgInvalidOwnerID:     "Identifiant invalide : %s",
		MsgMissingCredentials: "Identifiants manquants",
	},
}

// Localizer renders messages in the language a user agent prefers.
type Localizer struct {
	catalog   catalog.Catalog
	supported []language.Tag
	matcher   language.Matcher
}

// NewLocalizer creates a Localizer with every built in translation.
// fallback is used when a user agent prefers no supported language and must
// be one of the supported languages.
func NewLocalizer(fallback language.Tag) (*Localizer, error) {
	const op = "callback.NewLocalizer"
	if _, ok := translations[fallback]; !ok {
		return nil, fmt.Errorf("%s: no translations for %s", op, fallback)
	}
	b := catalog.NewBuilder(catalog.Fallback(fallback))
	supported := []language.Tag{fallback}
	for tag, msgs := range translations {
		if tag != fallback {
			supported = append(supported, tag)
		}
		for key, msg := range msgs {
			if err := b.SetString(tag, string(key), msg); err != nil {
				return nil, fmt.Errorf("%s: unable to add %s for %s: %w", op, key, tag, err)
			}
		}
	}
	return &Localizer{
		catalog:   b,
		supported: supported,
		matcher:   language.NewMatcher(supported),
	}, nil
}

// Match returns the supported language closest to an Accept-Language
// header value.
func (l *Localizer) Match(acceptLanguage string) language.Tag {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return l.supported[0]
	}
	_, idx, conf := l.matcher.Match(prefs...)
	if conf == language.No {
		return l.supported[0]
	}
	return l.supported[idx]
}

// Message renders the message for key in the language.
func (l *Localizer) Message(tag language.Tag, key MessageKey, args ...interface{}) string {
	p := message.NewPrinter(tag, message.Catalog(l.catalog))
	return p.Sprintf(string(key), args...)
}
