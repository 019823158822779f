package language

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrUnsupported reports a language the synthesis worker cannot voice.
var ErrUnsupported = errors.New("unsupported language")

// supported lists the languages the speech model accepts, in the order
// they are reported to users.
var supported = []language.Tag{
	language.Korean,
	language.English,
	language.Chinese,
	language.Japanese,
	language.German,
	language.French,
	language.Russian,
	language.Portuguese,
	language.Spanish,
	language.Italian,
}

var englishNames = display.English.Tags()

// Supported returns the English names of every voiced language.
func Supported() []string {
	names := make([]string, 0, len(supported))
	for _, tag := range supported {
		names = append(names, englishNames.Name(tag))
	}
	return names
}

// Resolve maps a BCP 47 tag ("ko", "ko-KR"), an ISO 639-2 code ("kor"), an
// English name ("Korean") or a native name ("한국어") to a supported tag.
func Resolve(input string) (language.Tag, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return language.Und, fmt.Errorf("%w: empty value", ErrUnsupported)
	}
	for _, tag := range supported {
		if strings.EqualFold(value, englishNames.Name(tag)) || value == display.Self.Name(tag) {
			return tag, nil
		}
	}

	tag, err := language.Parse(value)
	if err != nil {
		base, baseErr := language.ParseBase(value)
		if baseErr != nil {
			return language.Und, fmt.Errorf("%w: %q", ErrUnsupported, input)
		}
		tag = language.Make(base.String())
	}
	base, _ := tag.Base()
	for _, candidate := range supported {
		if candidateBase, _ := candidate.Base(); candidateBase == base {
			return candidate, nil
		}
	}
	return language.Und, fmt.Errorf("%w: %q", ErrUnsupported, input)
}

// Normalize resolves input and returns the English name the worker expects.
func Normalize(input string) (string, error) {
	tag, err := Resolve(input)
	if err != nil {
		return "", err
	}
	return englishNames.Name(tag), nil
}

// DisplayName returns the English name for input, or the trimmed input
// itself when it is not a supported language.
func DisplayName(input string) string {
	name, err := Normalize(input)
	if err != nil {
		return strings.TrimSpace(input)
	}
	return name
}
