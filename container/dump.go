package container

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Printer returns the printer containers use for Dump output. Numbers are
// grouped ("1,234,567").
func Printer() *message.Printer {
	return message.NewPrinter(language.English)
}
