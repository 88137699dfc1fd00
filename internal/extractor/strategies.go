package extractor

import (
	"github.com/PuerkitoBio/goquery"
)

// tableMatcher is one way of locating a table. Matchers are tried in order
// and the first hit wins.
type tableMatcher struct {
	name  string
	match func(doc *goquery.Document) *goquery.Selection
}

func findTable(doc *goquery.Document, matchers []tableMatcher) (*goquery.Selection, string) {
	for _, m := range matchers {
		if table := m.match(doc); table != nil {
			return table, m.name
		}
	}
	return nil, ""
}

func byClass(classes []string) tableMatcher {
	return tableMatcher{
		name: "class",
		match: func(doc *goquery.Document) *goquery.Selection {
			tables := doc.Find("table")
			for _, class := range classes {
				hit := tables.FilterFunction(func(_ int, s *goquery.Selection) bool {
					return s.HasClass(class)
				}).First()
				if hit.Length() > 0 {
					return hit
				}
			}
			return nil
		},
	}
}

func byHeading(headings []string) tableMatcher {
	return tableMatcher{
		name: "heading",
		match: func(doc *goquery.Document) *goquery.Selection {
			return tableNearHeading(doc, headings)
		},
	}
}

func firstTable() tableMatcher {
	return tableMatcher{
		name: "first-table",
		match: func(doc *goquery.Document) *goquery.Selection {
			if t := doc.Find("table").First(); t.Length() > 0 {
				return t
			}
			return nil
		},
	}
}

const headingSelector = "caption, th, td, h1, h2, h3, h4, h5, h6, b, strong, span, div, p, font"

// tableNearHeading finds the first element whose whole text equals one of
// headings and returns the table it titles: a following sibling table (or
// a table inside a following sibling), else the enclosing table. Elements
// sitting in a multi-cell row are field labels, not headings.
func tableNearHeading(doc *goquery.Document, headings []string) *goquery.Selection {
	for _, heading := range headings {
		want := normalizeKey(heading)
		if want == "" {
			continue
		}
		var table *goquery.Selection
		doc.Find(headingSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if normalizeKey(s.Text()) != want || inMultiCellRow(s) {
				return true
			}
			table = tableFor(s)
			return table == nil
		})
		if table != nil {
			return table
		}
	}
	return nil
}

func tableFor(heading *goquery.Selection) *goquery.Selection {
	var found *goquery.Selection
	heading.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
		if goquery.NodeName(sib) == "table" {
			found = sib
			return false
		}
		if inner := sib.Find("table").First(); inner.Length() > 0 {
			found = inner
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	if enclosing := heading.Closest("table"); enclosing.Length() > 0 {
		return enclosing
	}
	return nil
}

func inMultiCellRow(s *goquery.Selection) bool {
	row := s.Closest("tr")
	if row.Length() == 0 {
		return false
	}
	return row.ChildrenFiltered("td, th").Length() > 1
}
