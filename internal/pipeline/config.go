package pipeline

import "time"

// StationConfig is the per-station processing-time range and failure rate
// named in spec.md §4.2's table and §6's configuration section.
type StationConfig struct {
	MinProcessingTime time.Duration
	MaxProcessingTime time.Duration
	FailureRate       float64
}

// Config assembles the five stations and four buffers per spec.md §4.3 and
// §6. It is a plain-value struct deliberately decoupled from the YAML
// loading in internal/config, so the controller has no notion of viper.
type Config struct {
	BufferCapacity int

	Intake               StationConfig
	IntakeProductionRate float64 // items/min, spec.md §6 intake.productionRate

	Assembler StationConfig

	Quality           StationConfig
	QualityReworkRate float64 // spec.md §6 quality.reworkRate

	Packaging StationConfig
	Shipping  StationConfig

	// MaxReworkCount caps the rework decisions a single product may
	// receive: the MaxReworkCount-th one rejects it instead of routing it
	// back, so it is routed back through the rework edge at most
	// MaxReworkCount-1 times. Zero means unlimited. Not named by spec.md's §6
	// configuration table — it exists to make scenario S3 ("rework loop
	// ... until an external cap ... rejects it") expressible without a
	// separate test-only code path.
	MaxReworkCount int

	// QualityForceSubTestFailures, when non-nil, replaces
	// QualityInspection's live sub-test sampling with this fixed failure
	// count on every product. Nil in production. Scenario S3 needs the
	// sub-test pass rate "forced to 0" to make the rework loop
	// deterministic; this is that knob.
	QualityForceSubTestFailures *int
}

// DefaultConfig returns the default values named throughout spec.md §4.2
// and §6.
func DefaultConfig() Config {
	return Config{
		BufferCapacity: 20,

		Intake:               StationConfig{MinProcessingTime: 50 * time.Millisecond, MaxProcessingTime: 150 * time.Millisecond, FailureRate: 0.0},
		IntakeProductionRate: 10,

		Assembler: StationConfig{MinProcessingTime: 200 * time.Millisecond, MaxProcessingTime: 400 * time.Millisecond, FailureRate: 0.02},

		Quality:           StationConfig{MinProcessingTime: 150 * time.Millisecond, MaxProcessingTime: 300 * time.Millisecond, FailureRate: 0.03},
		QualityReworkRate: 0.08,

		Packaging: StationConfig{MinProcessingTime: 180 * time.Millisecond, MaxProcessingTime: 350 * time.Millisecond, FailureRate: 0.01},
		Shipping:  StationConfig{MinProcessingTime: 100 * time.Millisecond, MaxProcessingTime: 200 * time.Millisecond, FailureRate: 0.005},
	}
}
