// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"testing"

	"github.com/pdiddy/review-engine/pkg/types"
)

func TestParseItemRef(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantID   string
		wantSite string
	}{
		{"query wid beats path", "https://x.com/p/ABC1234567?wid=DEF999", "DEF999", "MLA"},
		{"query item_id", "https://www.mercadolibre.com.mx/algo?item_id=MLM123456789", "MLM123456789", "MLM"},
		{"fragment wid", "https://www.mercadolibre.com.ar/p/MLA555#wid=MLA987654321&sid=search", "MLA987654321", "MLA"},
		{"catalog path", "https://www.mercadolibre.com.co/celular/p/MCO19615372", "MCO19615372", "MCO"},
		{"hyphenated listing", "https://articulo.mercadolibre.com.ar/MLA-1234567890-zapatillas-_JM", "MLA1234567890", "MLA"},
		{"brazil listing", "https://produto.mercadolivre.com.br/MLB-3456789012-tenis", "MLB3456789012", "MLB"},
		{"no id uses host", "https://www.mercadolibre.cl/ofertas", "", "MLC"},
		{"no id unknown host", "https://example.com/shop", "", DefaultSite},
		{"short digits ignored", "https://www.mercadolibre.com.uy/MLU-123", "", "MLU"},
		{"whitespace trimmed", "  https://articulo.mercadolibre.com.pe/MPE-123456789  ", "MPE123456789", "MPE"},
		{"empty", "", "", DefaultSite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseItemRef(tt.input)
			if got.ItemID != tt.wantID {
				t.Errorf("ParseItemRef(%q).ItemID = %q, want %q", tt.input, got.ItemID, tt.wantID)
			}
			if got.SiteCode != tt.wantSite {
				t.Errorf("ParseItemRef(%q).SiteCode = %q, want %q", tt.input, got.SiteCode, tt.wantSite)
			}
		})
	}
}

func TestParseItemRef_KeepsRawURL(t *testing.T) {
	in := "https://articulo.mercadolibre.com.ar/MLA-1234567890-zapatillas-_JM"
	if got := ParseItemRef(in).RawURL; got != in {
		t.Errorf("RawURL = %q, want %q", got, in)
	}
}

func TestItemPageURL(t *testing.T) {
	tests := []struct {
		name string
		ref  types.ItemRef
		want string
	}{
		{"argentina", types.ItemRef{ItemID: "MLA1234567890", SiteCode: "MLA"}, "https://articulo.mercadolibre.com.ar/MLA-1234567890"},
		{"brazil", types.ItemRef{ItemID: "MLB3456789012", SiteCode: "MLB"}, "https://articulo.mercadolivre.com.br/MLB-3456789012"},
		{"mexico", types.ItemRef{ItemID: "MLM123456789", SiteCode: "MLM"}, "https://articulo.mercadolibre.com.mx/MLM-123456789"},
		{"unknown site", types.ItemRef{ItemID: "DEF999", SiteCode: "XYZ"}, "https://articulo.mercadolibre.com.ar/MLA-999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ItemPageURL(tt.ref); got != tt.want {
				t.Errorf("ItemPageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSiteFor(t *testing.T) {
	if got := SiteFor("mlb").Currency; got != "BRL" {
		t.Errorf("SiteFor(mlb).Currency = %q, want BRL", got)
	}
	if got := SiteFor("").Code; got != DefaultSite {
		t.Errorf("SiteFor(\"\").Code = %q, want %q", got, DefaultSite)
	}
}
