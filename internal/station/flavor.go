package station

import "github.com/elcorderodedios/assemblyline/internal/product"

// The tables below are the "purely cosmetic station-specific prose" named
// out of scope by spec.md §1 (assembly step names, shipping destinations,
// packaging specs) — supplemented from original_source/core/stations/*.cpp
// for texture in AsyncLogger output. Nothing downstream reads their
// content; only counts derived from them (the number of quality sub-tests)
// are load-bearing, per §4.2's QualityInspection row.

var assemblySteps = map[product.Type][]string{
	product.Washer:       {"mount drum", "install motor", "attach control panel", "seal door"},
	product.Dryer:        {"mount drum", "install heating element", "attach control panel", "seal door"},
	product.Refrigerator: {"install compressor", "mount condenser coils", "attach door seals", "install shelving"},
	product.Dishwasher:   {"install pump", "mount spray arms", "attach control panel", "seal door"},
	product.Oven:         {"install heating elements", "mount control panel", "attach door", "install insulation"},
}

var qualitySubTests = map[product.Type][]string{
	product.Washer:       {"spin cycle test", "water level sensor", "door lock test", "leak test"},
	product.Dryer:        {"heat cycle test", "drum rotation test", "door lock test", "lint filter check"},
	product.Refrigerator: {"compressor pressure test", "thermostat calibration", "door seal test", "noise level check"},
	product.Dishwasher:   {"spray pressure test", "drain pump test", "door latch test", "leak test"},
	product.Oven:         {"heating element test", "thermostat calibration", "door seal test", "insulation check"},
}

var packagingSpecs = map[product.Type]string{
	product.Washer:       "box 90x70x90cm, 65kg",
	product.Dryer:        "box 90x70x90cm, 45kg",
	product.Refrigerator: "box 90x180x90cm, 85kg",
	product.Dishwasher:   "box 70x60x85cm, 40kg",
	product.Oven:         "box 80x65x90cm, 38kg",
}

var shippingDestinations = []string{
	"Distribution Center North",
	"Distribution Center South",
	"Distribution Center East",
	"Distribution Center West",
	"Regional Retail Hub",
}
