// Package runtime provides message passing between the isolated contexts
// of the extension: the long-lived background context, one content
// context per tab, and the popup. Contexts share no memory; everything
// crosses as JSON payloads through a Router.
package runtime

import "fmt"

// Kind identifies a class of context.
type Kind string

const (
	KindBackground Kind = "background"
	KindContent    Kind = "content"
	KindPopup      Kind = "popup"
)

// Address names a single attachable context. Tab is set only for
// content contexts.
type Address struct {
	Kind Kind
	Tab  string
}

// Background addresses the background context.
func Background() Address { return Address{Kind: KindBackground} }

// Popup addresses the popup context.
func Popup() Address { return Address{Kind: KindPopup} }

// Content addresses the content context running in the given tab.
func Content(tab string) Address { return Address{Kind: KindContent, Tab: tab} }

func (a Address) String() string {
	if a.Kind == KindContent {
		return fmt.Sprintf("%s[%s]", a.Kind, a.Tab)
	}
	return string(a.Kind)
}
