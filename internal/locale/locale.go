// Package locale turns decision reason codes into user-facing messages in the
// caller's language.
package locale

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/language"

	"github.com/kozaktomas/presence/internal/biometric"
)

// Message keys for successful outcomes.
const (
	KeyAccepted = "accepted"
	KeyEnrolled = "enrolled"
)

// keyConflictOtherDevice is used for duplicates found on another device.
const keyConflictOtherDevice = "conflicting_identity_other_device"

var ErrNoLanguages = errors.New("message catalog has no languages")

// Catalog resolves messages for the best supported language.
type Catalog struct {
	matcher  language.Matcher
	tags     []language.Tag
	messages []map[string]string
}

// New builds a catalog from per-language message maps. The default language
// is preferred whenever the caller's preference cannot be matched.
func New(messages map[string]map[string]string, defaultLang string) (*Catalog, error) {
	if len(messages) == 0 {
		return nil, ErrNoLanguages
	}
	if _, ok := messages[defaultLang]; !ok {
		return nil, fmt.Errorf("default language %q has no messages", defaultLang)
	}

	langs := make([]string, 0, len(messages))
	for lang := range messages {
		if lang != defaultLang {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	langs = append([]string{defaultLang}, langs...)

	c := &Catalog{}
	for _, lang := range langs {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("parsing language %q: %w", lang, err)
		}
		c.tags = append(c.tags, tag)
		c.messages = append(c.messages, messages[lang])
	}
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// Match picks the supported language for an explicit language field and an
// Accept-Language header, in that order of preference.
func (c *Catalog) Match(explicit, acceptLanguage string) language.Tag {
	return c.tags[c.index(explicit, acceptLanguage)]
}

func (c *Catalog) index(explicit, acceptLanguage string) int {
	var desired []language.Tag
	if explicit != "" {
		if tag, err := language.Parse(explicit); err == nil {
			desired = append(desired, tag)
		}
	}
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
			desired = append(desired, tags...)
		}
	}
	if len(desired) == 0 {
		return 0
	}
	_, idx, conf := c.matcher.Match(desired...)
	if conf == language.No {
		return 0
	}
	return idx
}

// Message returns the message for key, falling back to the default language
// and then to the key itself.
func (c *Catalog) Message(explicit, acceptLanguage, key string) string {
	if msg, ok := c.messages[c.index(explicit, acceptLanguage)][key]; ok {
		return msg
	}
	if msg, ok := c.messages[0][key]; ok {
		return msg
	}
	return key
}

// Reason returns the message for a rejection. Conflicts found on another
// device get their own wording.
func (c *Catalog) Reason(explicit, acceptLanguage string, reason biometric.Reason, sameDevice bool) string {
	key := string(reason)
	if reason == biometric.ReasonConflictingIdentity && !sameDevice {
		key = keyConflictOtherDevice
	}
	return c.Message(explicit, acceptLanguage, key)
}
