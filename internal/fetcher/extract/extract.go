// Package extract turns fetched HTML into the text that gets fingerprinted.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
)

// ErrEmptyDocument is returned for blank HTML input.
var ErrEmptyDocument = errors.New("empty html document")

// Extractor converts HTML into markdown, or into plain body text when
// markdown output is disabled.
type Extractor struct {
	markdown bool
	conv     *converter.Converter
}

// New returns an Extractor. With markdown false only visible body text is kept.
func New(markdown bool) *Extractor {
	return &Extractor{
		markdown: markdown,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Extract returns the normalized content of html.
func (e *Extractor) Extract(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", ErrEmptyDocument
	}
	if e.markdown {
		md, err := e.conv.ConvertString(html)
		if err == nil {
			return strings.TrimSpace(md), nil
		}
	}
	return Text(html)
}

// Text returns the whitespace-collapsed body text of html with scripts and
// styles removed.
func Text(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Find("body").Text()), " "), nil
}
