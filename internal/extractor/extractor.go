// Package extractor turns profile pages into typed tracker.ScrapeResult values.
//
// Upstream markup is not stable, so the informational table is located by an
// ordered list of strategies and every typed field degrades to a default
// instead of failing the extraction.
package extractor

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

// Config holds the phrases and labels the extractor keys on. Matching is
// case-insensitive throughout.
type Config struct {
	// World is used when the page has no distinct world field.
	World string
	// ProfileMarkers must appear somewhere on a valid profile page.
	ProfileMarkers []string
	// NotFoundMarkers identify the upstream "no such character" page.
	NotFoundMarkers []string
	// InfoTableClasses are CSS classes tried, in order, to find the info table.
	InfoTableClasses []string
	// InfoTableHeadings are heading texts tried after the classes.
	InfoTableHeadings []string
	// ExperienceHeadings title the experience-history table.
	ExperienceHeadings []string
	// DeathHeadings title the death-list table.
	DeathHeadings []string
}

// DefaultConfig returns the settings that match the live profile pages.
func DefaultConfig() Config {
	return Config{
		World:              "San",
		ProfileMarkers:     []string{"Character Information", "Vocation"},
		NotFoundMarkers:    []string{"does not exist", "character not found"},
		InfoTableClasses:   []string{"TableContent", "table"},
		InfoTableHeadings:  []string{"Character Information"},
		ExperienceHeadings: []string{"Experience History"},
		DeathHeadings:      []string{"Death List", "Deaths"},
	}
}

// Field keys read from the info table.
const (
	keyLevel    = "level"
	keyVocation = "vocation"
	keyWorld    = "world"
)

// Extractor implements tracker.Extractor. It is stateless and safe for
// concurrent use.
type Extractor struct {
	cfg        Config
	infoTables []tableMatcher
	logger     *zap.Logger
}

var _ tracker.Extractor = (*Extractor)(nil)

// New builds an Extractor. Empty config fields fall back to DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if strings.TrimSpace(cfg.World) == "" {
		cfg.World = def.World
	}
	if len(cfg.ProfileMarkers) == 0 {
		cfg.ProfileMarkers = def.ProfileMarkers
	}
	if len(cfg.NotFoundMarkers) == 0 {
		cfg.NotFoundMarkers = def.NotFoundMarkers
	}
	if len(cfg.InfoTableClasses) == 0 {
		cfg.InfoTableClasses = def.InfoTableClasses
	}
	if len(cfg.InfoTableHeadings) == 0 {
		cfg.InfoTableHeadings = def.InfoTableHeadings
	}
	if len(cfg.ExperienceHeadings) == 0 {
		cfg.ExperienceHeadings = def.ExperienceHeadings
	}
	if len(cfg.DeathHeadings) == 0 {
		cfg.DeathHeadings = def.DeathHeadings
	}
	return &Extractor{
		cfg:    cfg,
		logger: logger,
		infoTables: []tableMatcher{
			byClass(cfg.InfoTableClasses),
			byHeading(cfg.InfoTableHeadings),
			firstTable(),
		},
	}
}

// Extract parses html. It never panics on malformed input; only a missing
// info table yields ParseFailure.
func (e *Extractor) Extract(html []byte) tracker.ScrapeResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return tracker.ParseFailure("parse html: " + err.Error())
	}

	// A profile marker wins over a not-found phrase found in free text.
	text := strings.ToLower(doc.Text())
	if _, ok := containsAny(text, e.cfg.ProfileMarkers); !ok {
		if phrase, ok := containsAny(text, e.cfg.NotFoundMarkers); ok {
			return tracker.NotFound("page says " + phrase)
		}
		return tracker.NotFound("no profile marker on page")
	}

	info, strategy := findTable(doc, e.infoTables)
	if info == nil {
		return tracker.ParseFailure("information table not found")
	}
	e.logger.Debug("information table located", zap.String("strategy", strategy))
	fields := readFields(info)

	profile := tracker.Profile{
		Level:    int(digitsInt(fields[keyLevel])),
		Vocation: fields[keyVocation],
		World:    e.cfg.World,
	}
	if world, ok := fields[keyWorld]; ok && world != "" {
		profile.World = world
	}
	if table := tableNearHeading(doc, e.cfg.ExperienceHeadings); table != nil {
		profile.Experience = todayExperience(table)
	}
	if table := tableNearHeading(doc, e.cfg.DeathHeadings); table != nil {
		deaths := countDataRows(table)
		profile.Deaths = &deaths
	}

	return tracker.Success(profile)
}

// readFields maps each row of at least two cells to key -> value. Later rows
// overwrite earlier ones.
func readFields(table *goquery.Selection) map[string]string {
	fields := make(map[string]string)
	ownRows(table).Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td, th")
		if cells.Length() < 2 {
			return
		}
		key := normalizeKey(cells.Eq(0).Text())
		if key == "" {
			return
		}
		fields[key] = strings.TrimSpace(cells.Eq(1).Text())
	})
	return fields
}

// todayExperience reads the first numeric cell after the label of the row
// whose first cell mentions "today".
func todayExperience(table *goquery.Selection) float64 {
	var experience float64
	ownRows(table).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.ChildrenFiltered("td, th")
		if cells.Length() < 2 || !strings.Contains(strings.ToLower(cells.Eq(0).Text()), "today") {
			return true
		}
		cells.Slice(1, cells.Length()).EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			if v, ok := digitsFloat(cell.Text()); ok {
				experience = v
				return false
			}
			return true
		})
		return false
	})
	return experience
}

// countDataRows counts rows made of at least two td cells. Header rows and
// single-cell title or message rows are not deaths.
func countDataRows(table *goquery.Selection) int {
	count := 0
	ownRows(table).Each(func(_ int, row *goquery.Selection) {
		if isHeaderRow(row) {
			return
		}
		if row.ChildrenFiltered("td").Length() >= 2 {
			count++
		}
	})
	return count
}

// isHeaderRow reports whether row labels columns: it has th cells, or every
// cell's text is entirely bold.
func isHeaderRow(row *goquery.Selection) bool {
	if row.ChildrenFiltered("th").Length() > 0 {
		return true
	}
	cells := row.ChildrenFiltered("td")
	if cells.Length() == 0 {
		return false
	}
	header := true
	cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		text := strings.TrimSpace(cell.Text())
		bold := strings.TrimSpace(cell.Find("b, strong").Not("b b, b strong, strong b, strong strong").Text())
		header = text != "" && bold == text
		return header
	})
	return header
}

// ownRows returns the rows of table, skipping rows of nested tables.
func ownRows(table *goquery.Selection) *goquery.Selection {
	return table.Find("tr").FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.Closest("table").IsSelection(table)
	})
}

func normalizeKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.TrimSuffix(key, ":")
	return strings.TrimSpace(key)
}

func containsAny(lowerText string, phrases []string) (string, bool) {
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lowerText, p) {
			return p, true
		}
	}
	return "", false
}
