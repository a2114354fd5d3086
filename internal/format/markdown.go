// Package format renders long-form HTML fields (disclaimers, offer
// descriptions) to markdown for chat and email notification bodies, so a
// changed disclaimer shows up as readable text instead of a wall of raw
// HTML tags.
package format

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

// ToMarkdown converts an HTML fragment to markdown. Callers pass the
// extracted field's raw HTML (not plain text) for fields where the source
// page uses inline formatting worth preserving in a notification.
func ToMarkdown(html string) (string, error) {
	conv := converter.NewConverter(converter.WithPlugins(base.NewBasePlugin(), commonmark.NewCommonmarkPlugin()))
	markdown, err := conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("format: convert html to markdown: %w", err)
	}
	return markdown, nil
}
