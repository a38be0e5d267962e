// Package extract turns a hosted page into a structured Snapshot of its
// subject entity. Extraction is driven by per-platform rule sets that
// locate the subject's identity, name, price and attributes in the page
// model, with currency resolution from the raw price text and the
// origin host.
package extract

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/pagerelay/entity"
)

// ErrNoMatch is returned when no rule can locate a subject entity on
// the page. Callers treat it as "page has no extractable subject", not
// as a failure.
var ErrNoMatch = errors.New("extract: no rule matched a subject entity")

// Extractor applies a RuleSet to page models. Safe for concurrent use.
type Extractor struct {
	rules       *RuleSet
	sanitizer   *bluemonday.Policy
	mdConverter *converter.Converter
	logger      *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New builds an Extractor over the given rules, or the built-in
// defaults when rules is nil.
func New(rules *RuleSet, opts ...Option) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	e := &Extractor{
		rules:     rules,
		sanitizer: bluemonday.StrictPolicy(),
		mdConverter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract captures a Snapshot from the page model. Extraction of an
// unchanged page always yields an Equivalent snapshot; only CapturedAt
// differs between runs.
func (e *Extractor) Extract(page *PageModel) (*entity.Snapshot, error) {
	rule := e.rules.Match(page.Host())
	if rule == nil {
		return nil, ErrNoMatch
	}

	name := e.fieldText(page, rule.Name)
	if name == "" {
		return nil, ErrNoMatch
	}

	snap := &entity.Snapshot{
		SubjectID:  e.subjectID(page, rule),
		Name:       name,
		Platform:   rule.Platform,
		SourceURL:  page.URL.String(),
		CapturedAt: entity.Now(),
	}

	if raw := e.fieldText(page, rule.Price); raw != "" {
		if amount, ok := ParseAmount(raw); ok {
			snap.Price = &entity.Price{
				Amount:   amount,
				Currency: ResolveCurrency(raw, page.Host()),
			}
		} else {
			e.logger.Debug("extract: unparsable price text", "context", page.ContextID, "raw", raw)
		}
	}

	for key, selectors := range rule.Attrs {
		if v := e.fieldText(page, selectors); v != "" {
			if snap.Attributes == nil {
				snap.Attributes = make(map[string]string)
			}
			snap.Attributes[key] = v
		}
	}

	if md := e.description(page, rule.Description); md != "" {
		if snap.Attributes == nil {
			snap.Attributes = make(map[string]string)
		}
		snap.Attributes["description_md"] = md
	}

	return snap, nil
}

// description renders the subject's description section as markdown,
// for handing to the downstream analyzer alongside the structured
// fields. Falls back to plain collected text when conversion fails or
// comes out empty.
func (e *Extractor) description(page *PageModel, selectors []string) string {
	node := queryFirst(page.Doc, selectors)
	if node == nil {
		return ""
	}
	if node.Data == "meta" {
		return strings.TrimSpace(e.sanitizer.Sanitize(attrValue(node, "content")))
	}
	fallback := collectText(node)
	md, err := e.mdConverter.ConvertString(renderNode(node),
		converter.WithDomain(page.URL.String()))
	if err != nil || strings.TrimSpace(md) == "" {
		return fallback
	}
	return strings.TrimSpace(md)
}

// fieldText resolves the first matching selector to sanitized,
// whitespace-normalized text. meta tags yield their content attribute.
func (e *Extractor) fieldText(page *PageModel, selectors []string) string {
	node := queryFirst(page.Doc, selectors)
	if node == nil {
		return ""
	}
	var text string
	if node.Data == "meta" {
		text = attrValue(node, "content")
	} else {
		text = collectText(node)
	}
	text = e.sanitizer.Sanitize(text)
	return strings.TrimSpace(text)
}

// subjectID comes from the rule's id selectors when they match; pages
// without an explicit id get a stable hash of their source URL so the
// same page always maps to the same subject.
func (e *Extractor) subjectID(page *PageModel, rule *Rule) string {
	if node := queryFirst(page.Doc, rule.SubjectID); node != nil {
		for _, key := range []string{"data-asin", "data-itemid", "data-product-id", "data-item-id", "data-productid", "content", "value"} {
			if v := attrValue(node, key); v != "" {
				return v
			}
		}
		if t := collectText(node); t != "" {
			return t
		}
	}
	h := fnv.New64a()
	h.Write([]byte(page.URL.Host + page.URL.Path))
	return fmt.Sprintf("url-%x", h.Sum64())
}
