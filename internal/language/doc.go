// Package language normalizes user-supplied voice languages.
//
// Callers may name a language by BCP 47 tag, ISO 639-2 code, English name or
// native name; the synthesis worker only understands English names, so
// everything is resolved through golang.org/x/text before a request is sent.
package language
