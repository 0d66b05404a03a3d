package main

import (
	"regexp"

	"pricewatch/internal/adapters/archive"
	"pricewatch/internal/adapters/portal"
	"pricewatch/internal/platform/config"
	"pricewatch/internal/services/ingest/domain"
)

// chainDef pairs a portal description with the item targeting the scan
// applies for that chain.
type chainDef struct {
	Portal    portal.Config
	Targeting domain.Targeting
}

const cerberusURL = "https://url.retail.publishedprices.co.il"

// builtinChains returns the supported chain definitions. Session portal
// passwords come from the credential config view so they never live in
// source; the published default for most portals is an empty password.
func builtinChains(cred config.Conf) []chainDef {
	return []chainDef{
		{
			Portal: portal.Config{
				Family:     portal.FamilyHTMLTable,
				Name:       "Shufersal",
				ChainID:    7290027600007,
				BaseURL:    "http://prices.shufersal.co.il",
				PricePath:  "FileObject/UpdateCategory/?catID=2&storeId=0&sort=Time&sortdir=DESC&page={page}",
				StorePath:  "FileObject/UpdateCategory?catID=5",
				HasPaging:  true,
				SampleName: "PriceFull7290027600007-001-202301010800.gz",
			},
			Targeting: domain.Targeting{Manufacturer: "קטיף."},
		},
		{
			Portal: portal.Config{
				Family:          portal.FamilySession,
				Name:            "RamiLevy",
				ChainID:         7290058140886,
				BaseURL:         cerberusURL,
				Username:        "RamiLevi",
				Password:        cred.MayString("RAMILEVY_PASSWORD", ""),
				CatalogEncoding: archive.EncodingUTF16LE,
				SampleName:      "PriceFull7290058140886-001-202301010800.gz",
			},
			Targeting: domain.Targeting{
				Manufacturer: "ביכורי השקמה",
				ItemCodes:    []string{"7290000012346"},
				CodePattern:  regexp.MustCompile(`7290000000`),
			},
		},
		{
			Portal: portal.Config{
				Family:          portal.FamilySession,
				Name:            "Yohananof",
				ChainID:         7290803800003,
				BaseURL:         cerberusURL,
				Username:        "yohananof",
				Password:        cred.MayString("YOHANANOF_PASSWORD", ""),
				CatalogEncoding: archive.EncodingUTF16LE,
				SampleName:      "PriceFull7290803800003-001-202301010800.gz",
			},
			Targeting: domain.Targeting{Manufacturer: "משתנה"},
		},
		{
			Portal: portal.Config{
				Family:     portal.FamilyREST,
				Name:       "KingStore",
				ChainID:    7290058108879,
				BaseURL:    "https://www.kingstore.co.il/Food_Law",
				SampleName: "PriceFull7290058108879-001-202301010800.gz",
			},
			Targeting: domain.Targeting{
				ItemCodes: []string{
					"7290016057072", "7290016334500", "7290016334166",
					"7290016334616",
				},
				CodePattern: regexp.MustCompile(`^777\d{3}`),
			},
		},
		{
			Portal: portal.Config{
				Family:     portal.FamilyFolder,
				Name:       "YBitan",
				ChainID:    7290725900003,
				BaseURL:    "http://publishprice.ybitan.co.il",
				SampleName: "PriceFull7290725900003-001-202301010800.gz",
			},
		},
		{
			Portal: portal.Config{
				Family:       portal.FamilyHTMLTable,
				Name:         "Victory",
				ChainID:      7290696200003,
				BaseURL:      "http://matrixcatalog.co.il",
				PricePath:    "NBCompetitionRegulations.aspx?code=7290696200003&fileType=pricefull",
				StorePath:    "NBCompetitionRegulations.aspx?code=7290696200003&fileType=storesfull",
				CleanPattern: `-001$`,
				SampleName:   "PriceFull7290696200003-001-202301010800.gz",
			},
			Targeting: domain.Targeting{
				ItemCodes: []string{
					"7290000654973", "7290010051267", "7290010051335",
					"7290017291123", "7290010051168",
				},
				CodePattern: regexp.MustCompile(`^2\d{3}`),
			},
		},
	}
}

// selectChains filters defs down to the named chains. An empty selection
// keeps everything; an unknown name is reported so a typo in -chains does
// not silently run nothing.
func selectChains(defs []chainDef, names []string) ([]chainDef, []string) {
	if len(names) == 0 {
		return defs, nil
	}
	byName := make(map[string]chainDef, len(defs))
	for _, d := range defs {
		byName[d.Portal.Name] = d
	}
	var picked []chainDef
	var unknown []string
	for _, n := range names {
		d, ok := byName[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		picked = append(picked, d)
	}
	return picked, unknown
}
