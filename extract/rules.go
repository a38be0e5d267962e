package extract

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagerelay/entity"
)

// Rule is the per-platform field locator set. Each field carries an
// ordered list of selectors, most specific first; the first one that
// matches wins.
type Rule struct {
	Platform    entity.Platform     `yaml:"platform"`
	Hosts       []string            `yaml:"hosts"`
	SubjectID   []string            `yaml:"subject_id"`
	Name        []string            `yaml:"name"`
	Price       []string            `yaml:"price"`
	Description []string            `yaml:"description"`
	Attrs       map[string][]string `yaml:"attrs"`
}

// RuleSet maps origin hosts to extraction rules, with a generic rule as
// the catch-all.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules covers the common storefront platforms plus a generic
// fallback built on the usual semantic markup (itemprop, og tags, h1).
func DefaultRules() *RuleSet {
	return &RuleSet{Rules: []Rule{
		{
			Platform:    entity.PlatformAmazon,
			Hosts:       []string{"amazon."},
			SubjectID:   []string{"div[data-asin]", "input[name=ASIN]"},
			Name:        []string{"span#productTitle", "h1#title"},
			Price:       []string{"span.a-price span.a-offscreen", "span#priceblock_ourprice"},
			Description: []string{"div#productDescription", "div#feature-bullets"},
			Attrs: map[string][]string{
				"brand":        {"a#bylineInfo"},
				"availability": {"div#availability span"},
			},
		},
		{
			Platform:  entity.PlatformEBay,
			Hosts:     []string{"ebay."},
			SubjectID: []string{"div[data-itemid]"},
			Name:      []string{"h1.x-item-title__mainTitle", "h1#itemTitle"},
			Price:     []string{"div.x-price-primary span", "span#prcIsum"},
			Attrs: map[string][]string{
				"condition": {"div.x-item-condition-text span"},
				"seller":    {"div.x-sellercard-atf__info a"},
			},
		},
		{
			Platform:  entity.PlatformShopify,
			Hosts:     []string{"myshopify.com", ".shopify."},
			SubjectID: []string{"div[data-product-id]", "form[data-productid]"},
			Name:      []string{"h1.product__title", "h1.product-single__title", "h1"},
			Price:     []string{"span.price-item--regular", "span.product__price", "span.price"},
		},
		{
			Platform:  entity.PlatformWalmart,
			Hosts:     []string{"walmart."},
			SubjectID: []string{"div[data-item-id]"},
			Name:      []string{"h1[itemprop=name]", "h1"},
			Price:     []string{"span[itemprop=price]", "span[data-automation-id=product-price]"},
		},
		{
			Platform:    entity.PlatformGeneric,
			SubjectID:   []string{"meta[property=product:id]", "div[data-product-id]"},
			Name:        []string{"h1[itemprop=name]", "meta[property=og:title]", "h1", "title"},
			Price:       []string{"span[itemprop=price]", "meta[property=product:price:amount]", "span.price", "div.price"},
			Description: []string{"div[itemprop=description]", "meta[property=og:description]"},
		},
	}}
}

// LoadRules reads a rule set from a YAML file and appends the built-in
// defaults after it, so file rules take precedence while the generic
// fallback stays available.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read rules: %w", err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("extract: parse rules %s: %w", path, err)
	}
	for i := range rs.Rules {
		if rs.Rules[i].Platform == "" {
			rs.Rules[i].Platform = entity.PlatformGeneric
		}
	}
	rs.Rules = append(rs.Rules, DefaultRules().Rules...)
	return &rs, nil
}

// Match returns the first rule whose host fragments match the origin,
// falling back to the first rule with no host list.
func (rs *RuleSet) Match(host string) *Rule {
	host = strings.ToLower(host)
	for i := range rs.Rules {
		for _, h := range rs.Rules[i].Hosts {
			if strings.Contains(host, h) {
				return &rs.Rules[i]
			}
		}
	}
	for i := range rs.Rules {
		if len(rs.Rules[i].Hosts) == 0 {
			return &rs.Rules[i]
		}
	}
	return nil
}
