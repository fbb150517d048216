package formextract

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/osint-platform/crawler-core/internal/linkextract"
	"github.com/osint-platform/crawler-core/internal/metadata"
	"github.com/osint-platform/crawler-core/pkg/failure"
)

/*
Responsibilities
- Enumerate every <form> on a page
- Resolve each form's action to an absolute URL
- Collect its inputs, selects, and textareas with their attributes

Only runs when extract_forms is enabled on the crawl. A form with no
action attribute falls back to the page's own URL, mirroring default
browser submission behavior.
*/

type Extractor struct {
	metadataSink metadata.MetadataSink
}

func NewExtractor(metadataSink metadata.MetadataSink) Extractor {
	return Extractor{metadataSink: metadataSink}
}

// Extract returns every form on the page plus, for each form with a
// resolvable action, a FORM_ACTION link carrying the same admission
// eligibility as any other discovered link.
func (x Extractor) Extract(base url.URL, htmlBytes []byte) ([]Form, []linkextract.Link, failure.ClassifiedError) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		extractionErr := &ExtractionError{Message: err.Error(), Cause: ErrCauseNotParseable}
		if x.metadataSink != nil {
			x.metadataSink.RecordError(
				time.Now(),
				"formextract",
				"Extractor.Extract",
				metadata.CauseContentInvalid,
				extractionErr.Error(),
				[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, base.String())},
			)
		}
		return nil, nil, extractionErr
	}

	var forms []Form
	var actionLinks []linkextract.Link

	doc.Find("form").Each(func(_ int, formSel *goquery.Selection) {
		form := Form{Method: resolveMethod(formSel)}

		actionAttr, hasAction := formSel.Attr("action")
		actionURL := base
		if hasAction && actionAttr != "" {
			if ref, perr := url.Parse(actionAttr); perr == nil {
				actionURL = *base.ResolveReference(ref)
			}
		}
		form.Action = actionURL.String()

		form.Inputs = collectInputs(formSel)
		forms = append(forms, form)

		actionLinks = append(actionLinks, linkextract.Link{
			URL:  form.Action,
			Type: linkextract.FormAction,
			Attrs: map[string]string{
				"method":      form.Method,
				"input_count": strconv.Itoa(len(form.Inputs)),
			},
		})
	})

	return forms, actionLinks, nil
}

func resolveMethod(formSel *goquery.Selection) string {
	method, _ := formSel.Attr("method")
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return "GET"
	}
	return method
}

func collectInputs(formSel *goquery.Selection) []FormInput {
	var inputs []FormInput

	formSel.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)

		typ, hasType := s.Attr("type")
		if !hasType || typ == "" {
			typ = tag
		}

		_, required := s.Attr("required")

		input := FormInput{
			Name:     attr(s, "name"),
			Type:     typ,
			Value:    attr(s, "value"),
			Required: required,
			Attrs:    attrsOf(s),
		}

		if tag == "select" {
			if input.Attrs == nil {
				input.Attrs = make(map[string]string)
			}
			input.Attrs["options"] = serializeOptions(s)
		}

		inputs = append(inputs, input)
	})

	return inputs
}

func serializeOptions(selectSel *goquery.Selection) string {
	var values []string
	selectSel.Find("option").Each(func(_ int, opt *goquery.Selection) {
		if v, ok := opt.Attr("value"); ok {
			values = append(values, v)
			return
		}
		values = append(values, strings.TrimSpace(opt.Text()))
	})
	return strings.Join(values, ",")
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return v
}

func attrsOf(s *goquery.Selection) map[string]string {
	if len(s.Nodes) == 0 {
		return nil
	}
	node := s.Nodes[0]
	if len(node.Attr) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(node.Attr))
	for _, a := range node.Attr {
		attrs[a.Key] = a.Val
	}
	return attrs
}
