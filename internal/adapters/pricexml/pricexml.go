// Package pricexml parses the two document families portals publish: per
// store price-full snapshots and chain store catalogs.
//
// Documents are read with a streaming token decoder so a multi-megabyte
// price file never has to sit fully materialized as a DOM. Tag matching is
// case-insensitive because the portals disagree about casing (StoreId vs
// StoreID) and about some tag names outright (ItemName vs ItemNm).
package pricexml

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/platform/errors"
	"pricewatch/internal/services/ingest/domain"
)

var updateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses the timestamp formats seen in catalog documents.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range updateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf(errors.ErrorCodeInvalidArgument, "pricexml: bad timestamp %q", v)
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	// payloads were transcoded to utf-8 upstream even when the prolog
	// still declares utf-16
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }
	return dec
}

func malformed(err error, what string) error {
	return errors.Wrapf(domain.ErrMalformedFile, errors.ErrorCodeInvalidArgument, "pricexml: %s: %v", what, err)
}

// ParsePriceDocument decodes a price-full snapshot into its header ids and
// item list. Targeting is the caller's concern; every item is returned.
func ParsePriceDocument(r io.Reader) (*domain.PriceDocument, error) {
	dec := newDecoder(r)
	doc := &domain.PriceDocument{}
	sawHeader := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, malformed(err, "price document")
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch {
		case tagIs(se, "ChainId"):
			doc.ChainID, err = leafInt(dec, se)
			sawHeader = true
		case tagIs(se, "SubChainId"):
			doc.SubchainID, err = leafInt(dec, se)
		case tagIs(se, "StoreId"):
			doc.StoreID, err = leafInt(dec, se)
		case tagIs(se, "Item", "Product"):
			var it domain.CatalogItem
			it, err = parseItem(dec, se)
			if err == nil {
				doc.Items = append(doc.Items, it)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if !sawHeader || doc.StoreID == 0 {
		return nil, errors.Wrap(domain.ErrMalformedFile, errors.ErrorCodeInvalidArgument,
			"pricexml: price document missing chain or store header")
	}
	return doc, nil
}

func parseItem(dec *xml.Decoder, start xml.StartElement) (domain.CatalogItem, error) {
	fields, err := leafFields(dec, start)
	if err != nil {
		return domain.CatalogItem{}, malformed(err, "item element")
	}

	it := domain.CatalogItem{
		Code:         fields["itemcode"],
		Name:         firstOf(fields, "itemname", "itemnm"),
		Manufacturer: fields["manufacturername"],
		Unit:         fields["unitofmeasure"],
	}
	if it.Code == "" {
		return domain.CatalogItem{}, errors.Wrap(domain.ErrMalformedFile, errors.ErrorCodeInvalidArgument,
			"pricexml: item without code")
	}

	rawPrice := firstOf(fields, "itemprice", "unitofmeasureprice")
	if rawPrice != "" {
		it.Price, err = decimal.NewFromString(strings.TrimSpace(rawPrice))
		if err != nil {
			return domain.CatalogItem{}, errors.Wrapf(domain.ErrMalformedFile, errors.ErrorCodeInvalidArgument,
				"pricexml: item %s bad price %q", it.Code, rawPrice)
		}
	}
	if raw := fields["priceupdatedate"]; raw != "" {
		it.UpdateDate, err = ParseTime(raw)
		if err != nil {
			return domain.CatalogItem{}, err
		}
	}
	return it, nil
}

// ParseStoreCatalog decodes a store-catalog document. Two shapes exist in
// the wild: subchains holding nested store lists, and a flat branch list
// where every row repeats its subchain fields inline.
func ParseStoreCatalog(r io.Reader) (*domain.StoreCatalog, error) {
	dec := newDecoder(r)
	cat := &domain.StoreCatalog{}
	order := []int64{}
	bySubchain := map[int64]*domain.SubchainEntry{}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, malformed(err, "store catalog")
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch {
		case tagIs(se, "ChainId"):
			if cat.ChainID == 0 {
				if cat.ChainID, err = leafInt(dec, se); err != nil {
					return nil, err
				}
			}
		case tagIs(se, "ChainName"):
			if cat.ChainName == "" {
				var v string
				if v, err = leafText(dec, se); err != nil {
					return nil, err
				}
				cat.ChainName = v
			}
		case tagIs(se, "SubChain"):
			sc, err := parseSubchain(dec, se)
			if err != nil {
				return nil, err
			}
			if _, seen := bySubchain[sc.ID]; !seen {
				order = append(order, sc.ID)
				bySubchain[sc.ID] = &domain.SubchainEntry{ID: sc.ID, Name: sc.Name}
			}
			bySubchain[sc.ID].Stores = append(bySubchain[sc.ID].Stores, sc.Stores...)
		case tagIs(se, "Branch"):
			if err := parseBranch(dec, se, cat, bySubchain, &order); err != nil {
				return nil, err
			}
		}
	}

	if cat.ChainID == 0 || len(bySubchain) == 0 {
		return nil, errors.Wrap(domain.ErrMalformedFile, errors.ErrorCodeInvalidArgument,
			"pricexml: store catalog missing chain or subchains")
	}
	for _, id := range order {
		cat.Subchains = append(cat.Subchains, *bySubchain[id])
	}
	return cat, nil
}

// parseSubchain handles the nested shape: subchain header fields followed
// by a Stores block of Store elements.
func parseSubchain(dec *xml.Decoder, start xml.StartElement) (domain.SubchainEntry, error) {
	sc := domain.SubchainEntry{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return sc, malformed(err, "subchain element")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case tagIs(t, "SubChainId"):
				if sc.ID, err = leafInt(dec, t); err != nil {
					return sc, err
				}
			case tagIs(t, "SubChainName"):
				if sc.Name, err = leafText(dec, t); err != nil {
					return sc, err
				}
			case tagIs(t, "Store"):
				fields, err := leafFields(dec, t)
				if err != nil {
					return sc, malformed(err, "store element")
				}
				st, err := storeFromFields(fields)
				if err != nil {
					return sc, err
				}
				sc.Stores = append(sc.Stores, st)
			}
		case xml.EndElement:
			if strings.EqualFold(t.Name.Local, start.Name.Local) {
				return sc, nil
			}
		}
	}
}

// parseBranch handles the flat shape: one element per store carrying its
// chain and subchain fields inline.
func parseBranch(
	dec *xml.Decoder,
	start xml.StartElement,
	cat *domain.StoreCatalog,
	bySubchain map[int64]*domain.SubchainEntry,
	order *[]int64,
) error {
	fields, err := leafFields(dec, start)
	if err != nil {
		return malformed(err, "branch element")
	}

	if cat.ChainID == 0 {
		if raw := fields["chainid"]; raw != "" {
			if cat.ChainID, err = parseInt(raw); err != nil {
				return err
			}
		}
	}
	if cat.ChainName == "" {
		cat.ChainName = fields["chainname"]
	}

	scID, err := parseInt(fields["subchainid"])
	if err != nil {
		return errors.Wrapf(domain.ErrMalformedFile, errors.ErrorCodeInvalidArgument,
			"pricexml: branch without subchain id")
	}
	sc, seen := bySubchain[scID]
	if !seen {
		sc = &domain.SubchainEntry{ID: scID, Name: fields["subchainname"]}
		bySubchain[scID] = sc
		*order = append(*order, scID)
	}

	st, err := storeFromFields(fields)
	if err != nil {
		return err
	}
	sc.Stores = append(sc.Stores, st)
	return nil
}

func storeFromFields(fields map[string]string) (domain.StoreEntry, error) {
	id, err := parseInt(fields["storeid"])
	if err != nil {
		return domain.StoreEntry{}, errors.Wrap(domain.ErrMalformedFile, errors.ErrorCodeInvalidArgument,
			"pricexml: store without id")
	}
	return domain.StoreEntry{
		ID:   id,
		Name: fields["storename"],
		City: fields["city"],
	}, nil
}

// leafFields reads the subtree under start and returns every leaf
// element's text keyed by lowercased tag name. Later duplicates win.
func leafFields(dec *xml.Decoder, start xml.StartElement) (map[string]string, error) {
	fields := map[string]string{}
	var current string
	var text strings.Builder
	depth := 0

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			current = strings.ToLower(t.Name.Local)
			text.Reset()
		case xml.CharData:
			if current != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 0 {
				return fields, nil
			}
			depth--
			if current != "" {
				fields[current] = strings.TrimSpace(text.String())
				current = ""
			}
		}
	}
}

func leafText(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var v string
	if err := dec.DecodeElement(&v, &start); err != nil {
		return "", malformed(err, "text element")
	}
	return strings.TrimSpace(v), nil
}

func leafInt(dec *xml.Decoder, start xml.StartElement) (int64, error) {
	v, err := leafText(dec, start)
	if err != nil {
		return 0, err
	}
	return parseInt(v)
}

func parseInt(v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(domain.ErrMalformedFile, errors.ErrorCodeInvalidArgument,
			"pricexml: bad numeric field %q", v)
	}
	return n, nil
}

func tagIs(se xml.StartElement, names ...string) bool {
	for _, n := range names {
		if strings.EqualFold(se.Name.Local, n) {
			return true
		}
	}
	return false
}

func firstOf(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := fields[k]; v != "" {
			return v
		}
	}
	return ""
}
