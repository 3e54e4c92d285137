// Package monitor defines core types shared across subsystems and implements
// the per-user polling pipeline: matching, deduplication, and orchestration.
package monitor

import "time"

// State represents the lifecycle state of a user's orchestrator.
type State string

// Orchestrator states reported by the control API.
const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateWaiting State = "waiting"
	StateStopped State = "stopped"
)

// StoreTarget identifies one storefront to poll. Immutable within a cycle.
type StoreTarget struct {
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// Keyword is one user-configured search term.
type Keyword struct {
	Word    string `json:"word"`
	Enabled bool   `json:"enabled"`
}

// UserConfig captures the per-user knobs the orchestrator reads every cycle.
type UserConfig struct {
	UserID                 string        `json:"user_id"`
	RateLimit              float64       `json:"rate_limit"`
	MonitorDelay           time.Duration `json:"monitor_delay"`
	MaxProducts            int           `json:"max_products"`
	MinCycleDelay          time.Duration `json:"min_cycle_delay"`
	SuccessDelayMultiplier float64       `json:"success_delay_multiplier"`
	BatchSize              int           `json:"batch_size"`
	InitialProductLimit    int           `json:"initial_product_limit"`
	Enabled                bool          `json:"enabled"`
}

// Variant is one purchasable variation of a product (usually a size).
type Variant struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Price             string `json:"price"`
	Available         bool   `json:"available"`
	InventoryQuantity int    `json:"inventory_quantity"`
}

// ProductImage holds one listing image reference.
type ProductImage struct {
	Src string `json:"src"`
}

// ProductRecord is one product parsed from a store listing response.
// Records are transient; they live for a single poll cycle.
type ProductRecord struct {
	Title       string         `json:"title"`
	Vendor      string         `json:"vendor"`
	ProductType string         `json:"product_type"`
	Tags        []string       `json:"tags"`
	Handle      string         `json:"handle"`
	Images      []ProductImage `json:"images"`
	Variants    []Variant      `json:"variants"`
}

// Available reports whether any variant of the product is purchasable.
func (p ProductRecord) Available() bool {
	for _, v := range p.Variants {
		if v.Available {
			return true
		}
	}
	return false
}

// NotificationPayload is the document delivered to the notification sink.
type NotificationPayload struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Price        string            `json:"price,omitempty"`
	ImageURL     string            `json:"image_url,omitempty"`
	Retailer     string            `json:"retailer"`
	Sizes        map[string]int    `json:"sizes,omitempty"`
	VariantLinks map[string]string `json:"variant_links,omitempty"`
}

// CycleStats summarizes one completed poll cycle for logging and status reporting.
type CycleStats struct {
	CycleID       string    `json:"cycle_id"`
	StoresChecked int       `json:"stores_checked"`
	StoresFailed  int       `json:"stores_failed"`
	Matches       int       `json:"matches"`
	Notifications int       `json:"notifications"`
	FinishedAt    time.Time `json:"finished_at"`
}

// StoreStatus is the per-store outcome recorded during a cycle.
type StoreStatus string

// Store outcomes reported by the periodic health log.
const (
	StoreStatusChecking   StoreStatus = "checking"
	StoreStatusSuccess    StoreStatus = "success"
	StoreStatusNoProducts StoreStatus = "no_products"
	StoreStatusError      StoreStatus = "error"
)
