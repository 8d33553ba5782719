package middleware

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

const (
	sessionName    = "faceverify"
	languageKey    = "language"
	translatorKey  = "translator"
	langQueryParam = "lang"
)

// Translator hält die Übersetzungen aller eingebetteten Sprachen
type Translator struct {
	bundle      *i18n.Bundle
	localizers  map[string]*i18n.Localizer
	supported   []language.Tag
	matcher     language.Matcher
	defaultLang string
}

// NewTranslator lädt die eingebetteten Sprachdateien. Die Standardsprache
// muss eine davon sein.
func NewTranslator(defaultLang string) (*Translator, error) {
	if defaultLang == "" {
		defaultLang = "en"
	}
	defaultTag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return nil, err
	}

	t := &Translator{
		bundle:      bundle,
		localizers:  make(map[string]*i18n.Localizer),
		defaultLang: defaultTag.String(),
	}

	// Standardsprache zuerst, damit der Matcher auf sie zurückfällt
	t.supported = append(t.supported, defaultTag)
	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		code := strings.TrimSuffix(path.Base(file), ".json")
		t.localizers[code] = i18n.NewLocalizer(bundle, code, t.defaultLang)
		if code != t.defaultLang {
			t.supported = append(t.supported, language.Make(code))
		}
	}

	if _, ok := t.localizers[t.defaultLang]; !ok {
		return nil, fmt.Errorf("no translations for default language %q", t.defaultLang)
	}
	t.matcher = language.NewMatcher(t.supported)

	log.Debugf("Loaded translations for %d languages", len(t.localizers))
	return t, nil
}

// Supports prüft, ob für lang Übersetzungen vorhanden sind
func (t *Translator) Supports(lang string) bool {
	_, ok := t.localizers[lang]
	return ok
}

// Translate übersetzt eine Nachricht. Unbekannte IDs werden unverändert zurückgegeben.
func (t *Translator) Translate(lang, id string, data map[string]interface{}) string {
	localizer, ok := t.localizers[lang]
	if !ok {
		localizer = t.localizers[t.defaultLang]
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		return id
	}
	return msg
}

// Match wählt die passendste Sprache für einen Accept-Language-Header
func (t *Translator) Match(acceptLanguage string) string {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return t.defaultLang
	}
	_, idx, conf := t.matcher.Match(prefs...)
	if conf == language.No {
		return t.defaultLang
	}
	base, _ := t.supported[idx].Base()
	return base.String()
}

// Sessions liefert die Cookie-Session-Middleware, in der die Sprachwahl gespeichert wird
func Sessions(secret string) gin.HandlerFunc {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 86400 * 365, HttpOnly: true})
	return sessions.Sessions(sessionName, store)
}

// I18n bestimmt die Sprache einer Anfrage: Query-Parameter "lang" (wird in der
// Session gespeichert), dann Session, dann Accept-Language, dann Standardsprache.
// Setzt voraus, dass Sessions vorher registriert wurde.
func I18n(t *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query(langQueryParam)

		if lang != "" && t.Supports(lang) {
			session.Set(languageKey, lang)
			if err := session.Save(); err != nil {
				log.Warnf("Failed to store language in session: %v", err)
			}
		} else if stored, ok := session.Get(languageKey).(string); ok && t.Supports(stored) {
			lang = stored
		} else {
			lang = t.Match(c.GetHeader("Accept-Language"))
		}

		c.Set(languageKey, lang)
		c.Set(translatorKey, t)
		c.Next()
	}
}

// Language liefert die für die Anfrage gewählte Sprache
func Language(c *gin.Context) string {
	return c.GetString(languageKey)
}

// T übersetzt eine Nachricht in der Sprache der Anfrage. Ohne I18n-Middleware
// wird die ID zurückgegeben.
func T(c *gin.Context, id string, data map[string]interface{}) string {
	v, _ := c.Get(translatorKey)
	t, ok := v.(*Translator)
	if !ok {
		return id
	}
	return t.Translate(Language(c), id, data)
}
