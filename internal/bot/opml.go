package bot

import (
	"encoding/xml"
	"fmt"

	"feedrelay/internal/model"
)

type opml struct {
	XMLName xml.Name      `xml:"opml"`
	Version string        `xml:"version,attr"`
	Title   string        `xml:"head>title"`
	Body    []opmlOutline `xml:"body>outline"`
}

type opmlOutline struct {
	Text   string `xml:"text,attr"`
	Title  string `xml:"title,attr"`
	Type   string `xml:"type,attr"`
	XMLURL string `xml:"xmlUrl,attr"`
}

// ExportOPML renders the feeds as an OPML 2.0 document for import into
// other feed readers.
func ExportOPML(feeds []model.Feed) ([]byte, error) {
	doc := opml{
		Version: "2.0",
		Title:   "Feed Relay subscriptions",
	}
	for _, f := range feeds {
		doc.Body = append(doc.Body, opmlOutline{
			Text:   f.Title,
			Title:  f.Title,
			Type:   "rss",
			XMLURL: f.URL,
		})
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal opml: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}
