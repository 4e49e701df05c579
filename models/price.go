package models

import "time"

// Labels used as the pharmacy field for ad-hoc runs, which have no
// configured source name.
const (
	LabelManual = "Manual Scraped"
	LabelGenius = "Genius Scraped"
)

// Source is a statically configured origin scraped on every scheduled run.
type Source struct {
	Name string `json:"name" mapstructure:"name"`
	URL  string `json:"url" mapstructure:"url"`

	// Selector optionally narrows the page to the product grid before the
	// fragment is handed to the extractor.
	Selector string `json:"selector,omitempty" mapstructure:"selector"`
}

// RawItem is one loosely typed entry returned by the extraction capability.
// Expected keys are producto, precio, stock, url and es_oferta, but none of
// them is guaranteed to be present or well typed.
type RawItem map[string]any

// Keys of a RawItem.
const (
	RawKeyProduct = "producto"
	RawKeyPrice   = "precio"
	RawKeyStock   = "stock"
	RawKeyURL     = "url"
	RawKeyOnOffer = "es_oferta"
)

// PriceRecord is the canonical output unit of the pipeline.
type PriceRecord struct {
	Pharmacy string  `json:"pharmacy"`
	Product  string  `json:"product"`
	Price    float64 `json:"price"`
	Stock    string  `json:"stock"`
	URL      string  `json:"url"`
	OnOffer  bool    `json:"on_offer,omitempty"`

	// Timestamp is assigned by the persistence sink, never by the pipeline.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}
