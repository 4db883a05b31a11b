// Package detect guesses which catalog selection matches a piece of text.
//
// Only catalog names that are also language names known to lingua take
// part. Detection is a convenience for the command line; the web form
// always uses the selection the user made.
package detect

import (
	"errors"
	"strings"

	"github.com/pemistahl/lingua-go"
)

// ErrUnavailable means fewer than two catalog names map to a detectable
// language.
var ErrUnavailable = errors.New("language detection unavailable for this catalog")

// Detector maps detected languages back to catalog names.
type Detector struct {
	detector lingua.LanguageDetector
	names    map[lingua.Language]string
}

// New builds a detector over the catalog names that match a lingua
// language name, ignoring case.
func New(names []string) (*Detector, error) {
	known := make(map[string]lingua.Language)
	for _, lang := range lingua.AllLanguages() {
		known[strings.ToLower(lang.String())] = lang
	}

	byLang := make(map[lingua.Language]string)
	var langs []lingua.Language
	for _, name := range names {
		lang, ok := known[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		if _, dup := byLang[lang]; dup {
			continue
		}
		byLang[lang] = name
		langs = append(langs, lang)
	}

	if len(langs) < 2 {
		return nil, ErrUnavailable
	}

	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(langs...).
			Build(),
		names: byLang,
	}, nil
}

// Names returns the catalog names the detector can choose from.
func (d *Detector) Names() []string {
	out := make([]string, 0, len(d.names))
	for _, name := range d.names {
		out = append(out, name)
	}
	return out
}

// Detect returns the catalog name for text. ok is false when the text is
// too short or ambiguous.
func (d *Detector) Detect(text string) (name string, ok bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	name, ok = d.names[lang]
	return name, ok
}
