// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/pdiddy/review-engine/pkg/types"
)

// Platform is the platform name stamped on every snapshot and review.
const Platform = "mercadolibre"

// DefaultSite is used when neither the item ID nor the host names a site.
const DefaultSite = "MLA"

// Site describes one MercadoLibre country site.
type Site struct {
	Code     string
	Domain   string
	Currency string
	Language string
}

// sites maps the three-letter site prefix to its domain. The order of
// siteOrder matters for host matching: longer suffixes first.
var sites = map[string]Site{
	"MLA": {"MLA", "mercadolibre.com.ar", "ARS", "es-AR"},
	"MLM": {"MLM", "mercadolibre.com.mx", "MXN", "es-MX"},
	"MLB": {"MLB", "mercadolivre.com.br", "BRL", "pt-BR"},
	"MLC": {"MLC", "mercadolibre.cl", "CLP", "es-CL"},
	"MCO": {"MCO", "mercadolibre.com.co", "COP", "es-CO"},
	"MLU": {"MLU", "mercadolibre.com.uy", "UYU", "es-UY"},
	"MPE": {"MPE", "mercadolibre.com.pe", "PEN", "es-PE"},
	"MLV": {"MLV", "mercadolibre.com.ve", "VES", "es-VE"},
}

var siteOrder = []string{"MLA", "MLM", "MLB", "MCO", "MLU", "MPE", "MLV", "MLC"}

// SiteFor returns the site for code, falling back to DefaultSite.
func SiteFor(code string) Site {
	if s, ok := sites[strings.ToUpper(code)]; ok {
		return s
	}
	return sites[DefaultSite]
}

var (
	// catalogPathPattern matches "/p/MLA12345678" catalog product paths.
	catalogPathPattern = regexp.MustCompile(`/p/([A-Za-z0-9-]+)`)

	// itemIDPattern matches listing IDs anywhere in a URL: "MLA-123456789"
	// or "MLM123456789".
	itemIDPattern = regexp.MustCompile(`[A-Z]{3}-?\d{6,}`)

	hyphenatedID   = regexp.MustCompile(`^([A-Z]{3})-(\d+)$`)
	trailingDigits = regexp.MustCompile(`\d+$`)
)

// ParseItemRef derives an ItemRef from a product URL. Strategies are tried
// in order: a "wid" or "item_id" parameter in the query or fragment, a
// "/p/<ID>" path segment, then the generic listing-ID pattern over the whole
// URL. The site comes from the ID prefix when it names a known site, then
// from the host's domain, then DefaultSite.
func ParseItemRef(rawURL string) types.ItemRef {
	rawURL = strings.TrimSpace(rawURL)
	ref := types.ItemRef{RawURL: rawURL}

	u, err := url.Parse(rawURL)
	if err == nil {
		ref.ItemID = idFromParams(u)
		if ref.ItemID == "" {
			if m := catalogPathPattern.FindStringSubmatch(u.Path); m != nil {
				ref.ItemID = normalizeID(m[1])
			}
		}
	}
	if ref.ItemID == "" {
		if m := itemIDPattern.FindString(rawURL); m != "" {
			ref.ItemID = normalizeID(m)
		}
	}

	ref.SiteCode = siteCode(ref.ItemID, u)
	return ref
}

func idFromParams(u *url.URL) string {
	sets := []url.Values{u.Query()}
	if u.Fragment != "" {
		if frag, err := url.ParseQuery(u.Fragment); err == nil {
			sets = append(sets, frag)
		}
	}
	for _, vals := range sets {
		for _, key := range []string{"wid", "item_id"} {
			if v := strings.TrimSpace(vals.Get(key)); v != "" {
				return normalizeID(v)
			}
		}
	}
	return ""
}

// normalizeID upper-cases an ID and joins "MLA-123" into "MLA123".
func normalizeID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if m := hyphenatedID.FindStringSubmatch(id); m != nil {
		return m[1] + m[2]
	}
	return id
}

func siteCode(itemID string, u *url.URL) string {
	if len(itemID) >= 3 {
		if _, ok := sites[itemID[:3]]; ok {
			return itemID[:3]
		}
	}
	if u != nil {
		host := strings.ToLower(u.Hostname())
		for _, code := range siteOrder {
			if strings.HasSuffix(host, sites[code].Domain) {
				return code
			}
		}
	}
	return DefaultSite
}

// ItemPageURL builds the canonical listing page for ref, e.g.
// "https://articulo.mercadolibre.com.ar/MLA-123456789".
func ItemPageURL(ref types.ItemRef) string {
	site := SiteFor(ref.SiteCode)
	digits := trailingDigits.FindString(ref.ItemID)
	if digits == "" {
		digits = ref.ItemID
	}
	return fmt.Sprintf("https://articulo.%s/%s-%s", site.Domain, site.Code, digits)
}
