package pipeline

import (
	"github.com/jzx17/pagepipeline/pkg/types"
)

// Stage names of the standard page pipeline
const (
	StagePreprocess = "preprocess"
	StageOCR        = "ocr"
	StageLayout     = "layout"
	StageTable      = "table"
	StageAssemble   = "assemble"
)

// StandardModels are the processors of the standard page pipeline.
// They are built once and shared by every run; a nil model makes its
// stage a passthrough.
type StandardModels[P any] struct {
	Preprocess types.Processor[P]
	OCR        types.Processor[P]
	Layout     types.Processor[P]
	Table      types.Processor[P]
	Assemble   types.Processor[P]
}

// NewStandard creates the five-stage page pipeline
// preprocess → ocr → layout → table → assemble, with batch sizes from config.
func NewStandard[P any](models StandardModels[P], config *types.Config, opts ...types.Option[*Pipeline[P]]) (*Pipeline[P], error) {
	cfg := config.WithDefaults()

	specs := []StageSpec[P]{
		{Name: StagePreprocess, Processor: models.Preprocess, BatchSize: cfg.PreprocessBatchSize},
		{Name: StageOCR, Processor: models.OCR, BatchSize: cfg.OCRBatchSize},
		{Name: StageLayout, Processor: models.Layout, BatchSize: cfg.LayoutBatchSize},
		{Name: StageTable, Processor: models.Table, BatchSize: cfg.TableBatchSize},
		{Name: StageAssemble, Processor: models.Assemble, BatchSize: cfg.AssembleBatchSize},
	}
	for i := range specs {
		if specs[i].Processor == nil {
			specs[i].Processor = Passthrough[P]()
		}
	}

	return New(specs, cfg, opts...)
}
