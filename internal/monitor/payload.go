package monitor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// PayloadBuilder assembles a NotificationPayload from a matched product,
// appending the optional sections (image, price, size breakdowns) only when
// the product carries them.
type PayloadBuilder struct {
	payload NotificationPayload
}

// NewPayloadBuilder starts a payload for one product on one store.
func NewPayloadBuilder(storeURL string, product ProductRecord) *PayloadBuilder {
	b := &PayloadBuilder{
		payload: NotificationPayload{
			ID:       uuid.NewString(),
			Title:    product.Title,
			URL:      productURL(storeURL, product),
			Retailer: retailerName(storeURL),
		},
	}
	if len(product.Variants) > 0 {
		b.payload.Price = product.Variants[0].Price
	}
	if len(product.Images) > 0 && product.Images[0].Src != "" {
		b.payload.ImageURL = product.Images[0].Src
	}
	return b
}

// WithSizes appends the size to stock-quantity section for available variants.
func (b *PayloadBuilder) WithSizes(product ProductRecord) *PayloadBuilder {
	sizes := make(map[string]int)
	for _, v := range product.Variants {
		if v.Available {
			sizes[v.Title] = v.InventoryQuantity
		}
	}
	if len(sizes) > 0 {
		b.payload.Sizes = sizes
	}
	return b
}

// WithVariantLinks appends direct add-to-cart links keyed by size.
func (b *PayloadBuilder) WithVariantLinks(storeURL string, product ProductRecord) *PayloadBuilder {
	links := make(map[string]string)
	for _, v := range product.Variants {
		if v.Available && v.ID != 0 {
			links[v.Title] = fmt.Sprintf("%s/cart/%d:1", strings.TrimSuffix(storeURL, "/"), v.ID)
		}
	}
	if len(links) > 0 {
		b.payload.VariantLinks = links
	}
	return b
}

// Build returns the assembled payload.
func (b *PayloadBuilder) Build() NotificationPayload {
	return b.payload
}

func productURL(storeURL string, product ProductRecord) string {
	base := strings.TrimSuffix(storeURL, "/")
	if product.Handle == "" {
		return base
	}
	return fmt.Sprintf("%s/products/%s", base, product.Handle)
}

func retailerName(storeURL string) string {
	u, err := url.Parse(storeURL)
	if err != nil || u.Hostname() == "" {
		return storeURL
	}
	return u.Hostname()
}
