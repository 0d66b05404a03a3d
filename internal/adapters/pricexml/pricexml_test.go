package pricexml

import (
	stderrs "errors"
	"strings"
	"testing"

	"pricewatch/internal/services/ingest/domain"
)

const priceDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Root>
  <ChainId>123</ChainId>
  <SubChainId>1</SubChainId>
  <StoreId>55</StoreId>
  <Items Count="2">
    <Item>
      <ItemCode>999</ItemCode>
      <ItemName>Corn Flakes 500g</ItemName>
      <ManufacturerName>Acme</ManufacturerName>
      <UnitOfMeasure>100g</UnitOfMeasure>
      <ItemPrice>12.50</ItemPrice>
      <PriceUpdateDate>2023-01-01 08:00</PriceUpdateDate>
    </Item>
    <Item>
      <ItemCode>1000</ItemCode>
      <ItemNm>Rice 1kg</ItemNm>
      <ManufacturerName>Other</ManufacturerName>
      <UnitOfMeasure>kg</UnitOfMeasure>
      <UnitOfMeasurePrice>8.90</UnitOfMeasurePrice>
      <PriceUpdateDate>2023-01-01 07:30:15</PriceUpdateDate>
    </Item>
  </Items>
</Root>`

func TestParsePriceDocument(t *testing.T) {
	doc, err := ParsePriceDocument(strings.NewReader(priceDoc))
	if err != nil {
		t.Fatalf("ParsePriceDocument: %v", err)
	}
	if doc.ChainID != 123 || doc.SubchainID != 1 || doc.StoreID != 55 {
		t.Fatalf("header = %+v", doc)
	}
	if len(doc.Items) != 2 {
		t.Fatalf("items = %d", len(doc.Items))
	}

	first := doc.Items[0]
	if first.Code != "999" || first.Name != "Corn Flakes 500g" || first.Manufacturer != "Acme" {
		t.Fatalf("item = %+v", first)
	}
	if first.Price.String() != "12.5" {
		t.Fatalf("price = %s", first.Price)
	}
	if first.UpdateDate.Format("2006-01-02 15:04") != "2023-01-01 08:00" {
		t.Fatalf("update date = %v", first.UpdateDate)
	}

	// alternate tag spellings
	second := doc.Items[1]
	if second.Name != "Rice 1kg" {
		t.Fatalf("ItemNm fallback broken: %+v", second)
	}
	if second.Price.String() != "8.9" {
		t.Fatalf("UnitOfMeasurePrice fallback broken: %s", second.Price)
	}
}

func TestParsePriceDocumentMissingHeader(t *testing.T) {
	_, err := ParsePriceDocument(strings.NewReader(`<Root><Items/></Root>`))
	if !stderrs.Is(err, domain.ErrMalformedFile) {
		t.Fatalf("err = %v", err)
	}
}

func TestParsePriceDocumentNotXML(t *testing.T) {
	_, err := ParsePriceDocument(strings.NewReader(`<html><body>login`))
	if !stderrs.Is(err, domain.ErrMalformedFile) {
		t.Fatalf("err = %v", err)
	}
}

func TestParsePriceDocumentUTF16Prolog(t *testing.T) {
	doc := strings.Replace(priceDoc, `encoding="UTF-8"`, `encoding="UTF-16"`, 1)
	if _, err := ParsePriceDocument(strings.NewReader(doc)); err != nil {
		t.Fatalf("utf-16 prolog over utf-8 bytes: %v", err)
	}
}

const nestedCatalog = `<Root>
  <ChainId>123</ChainId>
  <ChainName>Springfield Foods</ChainName>
  <SubChains>
    <SubChain>
      <SubChainId>1</SubChainId>
      <SubChainName>North</SubChainName>
      <Stores>
        <Store><StoreId>55</StoreId><StoreName>Springfield</StoreName><City>Springfield</City></Store>
        <Store><StoreId>56</StoreId><StoreName>Shelbyville</StoreName><City>Shelbyville</City></Store>
      </Stores>
    </SubChain>
    <SubChain>
      <SubChainId>2</SubChainId>
      <SubChainName>South</SubChainName>
      <Stores>
        <Store><StoreId>70</StoreId><StoreName>Ogdenville</StoreName><City>Ogdenville</City></Store>
      </Stores>
    </SubChain>
  </SubChains>
</Root>`

func TestParseStoreCatalogNested(t *testing.T) {
	cat, err := ParseStoreCatalog(strings.NewReader(nestedCatalog))
	if err != nil {
		t.Fatalf("ParseStoreCatalog: %v", err)
	}
	if cat.ChainID != 123 || cat.ChainName != "Springfield Foods" {
		t.Fatalf("chain = %+v", cat)
	}
	if len(cat.Subchains) != 2 {
		t.Fatalf("subchains = %+v", cat.Subchains)
	}
	north := cat.Subchains[0]
	if north.ID != 1 || north.Name != "North" || len(north.Stores) != 2 {
		t.Fatalf("north = %+v", north)
	}
	if north.Stores[0].ID != 55 || north.Stores[0].City != "Springfield" {
		t.Fatalf("store = %+v", north.Stores[0])
	}
}

const flatCatalog = `<Root>
  <Branches>
    <Branch>
      <ChainID>123</ChainID>
      <ChainName>Springfield Foods</ChainName>
      <SubChainID>1</SubChainID>
      <SubChainName>North</SubChainName>
      <StoreID>55</StoreID>
      <StoreName>Springfield</StoreName>
      <City>Springfield</City>
    </Branch>
    <Branch>
      <ChainID>123</ChainID>
      <SubChainID>1</SubChainID>
      <SubChainName>North</SubChainName>
      <StoreID>56</StoreID>
      <StoreName>Shelbyville</StoreName>
      <City>Shelbyville</City>
    </Branch>
  </Branches>
</Root>`

func TestParseStoreCatalogFlat(t *testing.T) {
	cat, err := ParseStoreCatalog(strings.NewReader(flatCatalog))
	if err != nil {
		t.Fatalf("ParseStoreCatalog: %v", err)
	}
	if cat.ChainID != 123 || cat.ChainName != "Springfield Foods" {
		t.Fatalf("chain = %+v", cat)
	}
	if len(cat.Subchains) != 1 {
		t.Fatalf("subchains = %+v", cat.Subchains)
	}
	if got := cat.Subchains[0]; got.ID != 1 || got.Name != "North" || len(got.Stores) != 2 {
		t.Fatalf("subchain = %+v", got)
	}
}

func TestParseStoreCatalogEmpty(t *testing.T) {
	_, err := ParseStoreCatalog(strings.NewReader(`<Root><ChainId>123</ChainId></Root>`))
	if !stderrs.Is(err, domain.ErrMalformedFile) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseTime(t *testing.T) {
	for _, v := range []string{"2023-01-01 08:00", "2023-01-01 08:00:30", "2023-01-01"} {
		if _, err := ParseTime(v); err != nil {
			t.Fatalf("ParseTime(%q): %v", v, err)
		}
	}
	if _, err := ParseTime("01/02/2023"); err == nil {
		t.Fatal("expected error")
	}
}
