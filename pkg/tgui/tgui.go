// Package tgui holds small Telegram formatting helpers: HTML-safe text
// building and message-length handling for ParseMode="HTML" replies.
package tgui

import (
	"html"
)

// MaxMessageLen is Telegram's hard limit for a single message, in characters.
const MaxMessageLen = 4096

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H should be treated as already-escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }
