// Package feed turns raw RSS/Atom bytes into normalized item records,
// hardened against oversize input and deeply-nested XML bombs: the
// streaming decoder never expands DTD-declared entities and bounds element
// depth itself.
package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cuemby/worldpam/internal/errs"
)

const (
	maxInputBytes = 10 * 1024 * 1024
	maxDepth      = 1000
)

const atomNS = "http://www.w3.org/2005/Atom"

// Item is one normalized feed entry. PublishedRaw preserves the feed's
// date string verbatim; resolution happens at scoring time.
type Item struct {
	Title        string
	Summary      string
	PublishedRaw string
}

// Parse accepts raw bytes plus a declared kind ("rss" or "atom") and
// returns normalized items. Oversize input, malformed XML, or excessive
// nesting yields a *errs.ParseError alongside whatever items decoded
// cleanly before the failure; callers treat the error as degrading that
// source's current cycle rather than aborting the pipeline.
func Parse(kind string, data []byte) ([]Item, error) {
	if len(data) == 0 {
		return nil, &errs.ParseError{Err: errors.New("empty input")}
	}
	if len(data) > maxInputBytes {
		return nil, &errs.ParseError{Err: fmt.Errorf("input exceeds %d bytes", maxInputBytes)}
	}

	switch kind {
	case "rss":
		return parseRSS(data)
	case "atom":
		return parseAtom(data)
	default:
		return nil, &errs.ParseError{Err: fmt.Errorf("unknown feed kind %q", kind)}
	}
}

// decoderFor builds a hardened streaming decoder: no external entity
// resolution (CharsetReader left nil and Entity set to an empty map, so
// DTD-declared entities are never expanded), and the caller
// tracks element depth itself since encoding/xml has no built-in bound.
func decoderFor(data []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	dec.Entity = map[string]string{}
	return dec
}

type rawItem struct {
	title   string
	summary string
	content string
	date    string
}

// streamItems walks the token stream collecting every element matches
// accepts, bounding nesting depth at maxDepth. On malformed input or a
// depth violation it returns the items decoded so far plus the error.
func streamItems(data []byte, matches func(xml.StartElement) bool, collect func(*xml.Decoder, xml.StartElement) (rawItem, error)) ([]rawItem, error) {
	dec := decoderFor(data)

	var out []rawItem
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return out, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth > maxDepth {
				return out, fmt.Errorf("element nesting exceeds %d", maxDepth)
			}
			if matches(t) {
				item, err := collect(dec, t)
				depth--
				if err != nil {
					return out, err
				}
				out = append(out, item)
				continue
			}
		case xml.EndElement:
			depth--
		}
	}
	return out, nil
}

func parseRSS(data []byte) ([]Item, error) {
	raws, err := streamItems(data, func(se xml.StartElement) bool {
		return se.Name.Local == "item"
	}, collectRSSItem)

	items := make([]Item, 0, len(raws))
	for _, r := range raws {
		items = append(items, Item{Title: r.title, Summary: r.summary, PublishedRaw: r.date})
	}
	if err != nil {
		return items, &errs.ParseError{Err: err}
	}
	return items, nil
}

func collectRSSItem(dec *xml.Decoder, start xml.StartElement) (rawItem, error) {
	var item rawItem
	for {
		tok, err := dec.Token()
		if err != nil {
			return item, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			text, err := readCharData(dec, t)
			if err != nil {
				return item, err
			}
			switch t.Name.Local {
			case "title":
				item.title = strings.TrimSpace(text)
			case "description":
				item.summary = strings.TrimSpace(text)
			case "pubDate":
				item.date = strings.TrimSpace(text)
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return item, nil
			}
		}
	}
}

func parseAtom(data []byte) ([]Item, error) {
	raws, err := streamItems(data, func(se xml.StartElement) bool {
		return se.Name.Local == "entry" && (se.Name.Space == "" || se.Name.Space == atomNS)
	}, collectAtomEntry)

	items := make([]Item, 0, len(raws))
	for _, r := range raws {
		summary := r.summary
		if summary == "" {
			summary = r.content
		}
		items = append(items, Item{Title: r.title, Summary: summary, PublishedRaw: r.date})
	}
	if err != nil {
		return items, &errs.ParseError{Err: err}
	}
	return items, nil
}

func collectAtomEntry(dec *xml.Decoder, start xml.StartElement) (rawItem, error) {
	var item rawItem
	var updated, published string
	for {
		tok, err := dec.Token()
		if err != nil {
			return item, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			text, err := readCharData(dec, t)
			if err != nil {
				return item, err
			}
			switch t.Name.Local {
			case "title":
				item.title = strings.TrimSpace(text)
			case "summary":
				item.summary = strings.TrimSpace(text)
			case "content":
				item.content = strings.TrimSpace(text)
			case "updated":
				updated = strings.TrimSpace(text)
			case "published":
				published = strings.TrimSpace(text)
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				if updated != "" {
					item.date = updated
				} else {
					item.date = published
				}
				return item, nil
			}
		}
	}
}

// readCharData consumes start's subtree, returning its character data and
// leaving the decoder positioned just after start's matching EndElement.
// Nested elements are skipped (their char data ignored), which matches the
// reference implementation's shallow text-only field extraction.
func readCharData(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var buf bytes.Buffer
	depth := 1
	for {
		tok, err := dec.Token()
		if err != nil {
			return buf.String(), fmt.Errorf("unexpected end reading %s: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if depth == 1 {
				buf.Write(t)
			}
		case xml.StartElement:
			depth++
			if depth > maxDepth {
				return buf.String(), fmt.Errorf("max depth exceeded in %s", start.Name.Local)
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				return buf.String(), nil
			}
		}
	}
}
