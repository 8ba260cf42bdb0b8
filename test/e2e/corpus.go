// Package e2e runs the full pipeline against a generated site: content directory, indexing,
// retrieval and the HTTP API.
package e2e

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// Page is one page of the generated site.
type Page struct {
	ID     string
	Type   string
	Title  string
	URL    string
	Phrase string
	Body   string
}

// Question asks about a phrase that only one page mentions.
type Question struct {
	Query       string
	ExpectedURL string
	Description string
}

// Site holds the pages and the questions that must retrieve them.
type Site struct {
	Pages     []Page
	Questions []Question
}

var topics = []struct {
	typ, title, phrase, body string
}{
	{"service", "Bulky Waste", "bulky waste collection", "Residents can book a bulky waste collection online. The bulky waste collection covers sofas, fridges and mattresses."},
	{"service", "Parking Permits", "resident parking permit", "Apply for a resident parking permit for your street. A resident parking permit is valid for twelve months."},
	{"service", "Council Tax", "council tax discount", "Single occupants may claim a council tax discount. The council tax discount is twenty five percent."},
	{"service", "Library Cards", "library membership card", "Any resident can get a library membership card. A library membership card lets you borrow ebooks."},
	{"service", "Pest Control", "rodent pest treatment", "We offer rodent pest treatment at home. A rodent pest treatment visit costs forty pounds."},
	{"service", "Street Lighting", "broken streetlight report", "Use the map to submit a broken streetlight report. Each broken streetlight report is fixed within five days."},
	{"service", "Allotments", "allotment waiting list", "Join the allotment waiting list for a plot. The allotment waiting list is about two years long."},
	{"service", "Marriage Ceremonies", "wedding ceremony venue", "The town hall is a licensed wedding ceremony venue. Book the wedding ceremony venue six months ahead."},
	{"service", "Planning Applications", "planning application portal", "Submit drawings through the planning application portal. The planning application portal shows decision dates."},
	{"service", "School Admissions", "primary school admission", "Apply for primary school admission by January. Primary school admission offers are sent in April."},
	{"news", "Swimming Pool Reopens", "leisure centre pool", "The leisure centre pool reopens after refurbishment. The leisure centre pool has a new learner lane."},
	{"news", "Bridge Repairs", "river bridge closure", "The river bridge closure starts in March. During the river bridge closure buses divert via Mill Lane."},
	{"news", "Tree Planting Week", "community tree planting", "Volunteers joined community tree planting in the park. Community tree planting added four hundred oaks."},
	{"news", "Market Returns", "farmers market saturday", "The farmers market saturday stalls are back. Farmers market saturday opening is eight until one."},
	{"news", "Cycle Lanes", "segregated cycle lane", "A segregated cycle lane now links the station and college. The segregated cycle lane is three kilometres."},
	{"page", "Contact Us", "customer contact centre", "Call the customer contact centre on weekdays. The customer contact centre closes at five."},
	{"page", "Opening Hours", "civic office opening", "Civic office opening times are nine to five. Civic office opening on Saturdays is by appointment."},
	{"page", "Accessibility Statement", "website accessibility statement", "This website accessibility statement covers screen readers. The website accessibility statement is reviewed yearly."},
	{"page", "Privacy Notice", "personal data privacy", "We process personal data privacy requests within a month. Personal data privacy questions go to the data officer."},
	{"page", "Jobs", "council job vacancies", "Browse current council job vacancies. Council job vacancies close at midnight on the listed date."},
	{"page", "Elections", "polling station finder", "Use the polling station finder before voting. The polling station finder needs your postcode."},
	{"page", "Museum", "town museum exhibitions", "The town museum exhibitions change each season. Town museum exhibitions are free for children."},
	{"page", "Cemeteries", "cemetery burial plots", "Cemetery burial plots can be reserved in advance. Cemetery burial plots are maintained by the parks team."},
	{"page", "Recycling Centre", "household recycling centre", "The household recycling centre accepts garden waste. Household recycling centre visits need a booking."},
	{"page", "Flood Advice", "flood sandbag supply", "Collect a flood sandbag supply from the depot. The flood sandbag supply is free during alerts."},
}

// BuildSite returns pages with unique phrases and one question per page.
func BuildSite() *Site {
	site := &Site{}
	for i, t := range topics {
		slug := strings.ReplaceAll(strings.ToLower(t.title), " ", "-")
		p := Page{
			ID:     fmt.Sprintf("%d", 100+i),
			Type:   t.typ,
			Title:  t.title,
			URL:    "/" + slug + "/",
			Phrase: t.phrase,
			Body:   t.body,
		}
		site.Pages = append(site.Pages, p)
		site.Questions = append(site.Questions, Question{
			Query:       t.phrase,
			ExpectedURL: p.URL,
			Description: fmt.Sprintf("%q finds %s", t.phrase, p.URL),
		})
	}
	return site
}

// pageJSON is the on-disk page document.
type pageJSON struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	URL          string         `json:"url"`
	Live         bool           `json:"live"`
	LastModified time.Time      `json:"last_modified"`
	Body         []models.Block `json:"body"`
}

// WritePage writes p as <id>.json under dir.
func WritePage(dir string, p Page, live bool, modified time.Time) error {
	doc := pageJSON{
		ID:           p.ID,
		Type:         p.Type,
		Title:        p.Title,
		URL:          p.URL,
		Live:         live,
		LastModified: modified,
		Body:         []models.Block{{Type: "paragraph", Value: "<p>" + p.Body + "</p>"}},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, p.ID+".json"), data, 0o644)
}

// WriteSite writes every page of s as live.
func WriteSite(dir string, s *Site, modified time.Time) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, p := range s.Pages {
		if err := WritePage(dir, p, true, modified); err != nil {
			return fmt.Errorf("write page %s: %w", p.ID, err)
		}
	}
	return nil
}
