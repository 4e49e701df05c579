package cleaner

import "github.com/PuerkitoBio/goquery"

// noiseSelector lists elements that never carry product listings.
const noiseSelector = "script, style, noscript, svg, iframe, link, meta, template"

// stripNoise removes non-content elements below root in place.
func stripNoise(root *goquery.Selection) {
	root.Find(noiseSelector).Remove()
}
