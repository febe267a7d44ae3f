package detection

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

var detectionTracer = otel.Tracer("wellbeing/crisis-detection")

// Observer receives one callback per assessment. Implementations must not
// block.
type Observer interface {
	ObserveAssessment(level string, seconds float64)
}

// Input bundles everything an assessment depends on.
type Input struct {
	Context CrisisContext
	History CrisisHistory
}

// Result exposes every stage alongside the final verdict.
type Result struct {
	Stage1     StageResult      `json:"stage1"`
	Stage2     StageResult      `json:"stage2"`
	Stage3     StageResult      `json:"stage3"`
	Assessment CrisisAssessment `json:"assessment"`
	Detected   bool             `json:"detected"`
}

// Detector chains the three stages and the aggregator. It holds only
// read-only state and is safe for concurrent use.
type Detector struct {
	catalog   *Catalog
	extractor *SignalExtractor
	adjuster  *ContextualRiskAdjuster
	analyzer  *HistoricalPatternAnalyzer
	observer  Observer
	logger    *logging.Logger
}

// NewDetector builds a detector over catalog (DefaultCatalog when nil).
func NewDetector(catalog *Catalog, logger *logging.Logger) *Detector {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{
		catalog:   catalog,
		extractor: NewSignalExtractor(catalog),
		adjuster:  NewContextualRiskAdjuster(catalog),
		analyzer:  NewHistoricalPatternAnalyzer(catalog),
		logger:    logger,
	}
}

// WithObserver attaches a metrics observer.
func (d *Detector) WithObserver(o Observer) *Detector {
	d.observer = o
	return d
}

// Catalog returns the catalog the detector was built with.
func (d *Detector) Catalog() *Catalog { return d.catalog }

// Assess runs stage 1 -> stage 2 -> stage 3 -> aggregate. The result depends
// only on the input and the catalog.
func (d *Detector) Assess(ctx context.Context, in Input) Result {
	_, span := detectionTracer.Start(ctx, "crisis.detect")
	defer span.End()
	start := time.Now()

	stage1 := d.extractor.Extract(in.Context.Message)
	stage2 := d.adjuster.Adjust(stage1, in.Context)
	stage3 := d.analyzer.Analyze(stage2, in.History)
	assessment := Aggregate(stage1, stage2, stage3, d.catalog.Version())

	result := Result{
		Stage1:     stage1,
		Stage2:     stage2,
		Stage3:     stage3,
		Assessment: assessment,
		Detected:   assessment.OverallLevel != SeverityNone,
	}

	span.SetAttributes(
		attribute.String("crisis.level", assessment.OverallLevel.String()),
		attribute.Float64("crisis.confidence", assessment.Confidence),
		attribute.Int("crisis.indicator_count", len(stage1.Indicators)),
		attribute.String("crisis.catalog_version", assessment.CatalogVersion),
	)

	if result.Detected {
		d.logger.Debug("crisis indicators detected",
			"user_id", in.Context.UserID,
			"level", assessment.OverallLevel.String(),
			"confidence", assessment.Confidence,
			"categories", assessment.MatchedCategories,
		)
	}
	if d.observer != nil {
		d.observer.ObserveAssessment(assessment.OverallLevel.String(), time.Since(start).Seconds())
	}
	return result
}
