package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// DefaultLanguage is used when a caller asks for nothing we ship.
const DefaultLanguage = "fr"

type Translator struct {
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", fmt.Sprintf("%s.yaml", langCode))

	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// T returns the message for key, or key itself when it is missing.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Has reports whether key is translated.
func (t *Translator) Has(key string) bool {
	_, ok := t.translations[key]
	return ok
}

// Catalog holds one Translator per shipped language.
type Catalog struct {
	byLang map[string]*Translator
}

// NewCatalog loads every language listed in langs from fsys.
func NewCatalog(fsys fs.FS, langs ...string) (*Catalog, error) {
	c := &Catalog{byLang: make(map[string]*Translator, len(langs))}
	for _, l := range langs {
		tr, err := NewTranslator(fsys, l)
		if err != nil {
			return nil, err
		}
		c.byLang[l] = tr
	}
	if _, ok := c.byLang[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("default language %q is not loaded", DefaultLanguage)
	}
	return c, nil
}

// Default loads the embedded French and English catalogs.
func Default() (*Catalog, error) {
	return NewCatalog(LocalesFS, "fr", "en")
}

// For picks the translator matching an Accept-Language header.
func (c *Catalog) For(acceptLanguage string) *Translator {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		tag = strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if tr, ok := c.byLang[tag]; ok {
			return tr
		}
	}
	return c.byLang[DefaultLanguage]
}
