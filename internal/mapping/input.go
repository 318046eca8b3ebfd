package mapping

import "github.com/sells-group/invoice-cli/internal/model"

// Input is the extraction output in one of its two mapping shapes:
// DirectInput or DerivedInput.
type Input interface {
	input()
}

// DirectInput carries accounting fields produced by a schema-aware extractor.
type DirectInput struct {
	Fields map[model.AccountingField]model.ExtractedField
	// OverallConfidence is the extractor's own document score, if reported.
	OverallConfidence *float64
	Raw               *model.ExtractionResult
}

// DerivedInput carries the generic extraction fields the engine maps itself.
type DerivedInput struct {
	Raw *model.ExtractionResult
}

func (DirectInput) input()  {}
func (DerivedInput) input() {}

// ClassifyInput decides how res is mapped. Direct mapping needs simple mode
// and accounting fields; a simple-mode request without them is mapped as
// derived and the returned note says so.
func ClassifyInput(simpleMode bool, res *model.ExtractionResult) (Input, string) {
	if res == nil {
		res = &model.ExtractionResult{}
	}
	if !simpleMode {
		return DerivedInput{Raw: res}, ""
	}
	if len(res.AccountingFields) == 0 {
		return DerivedInput{Raw: res}, "Simple mapping mode requested but the extractor returned no accounting fields; derived mapping used"
	}
	return DirectInput{Fields: res.AccountingFields, OverallConfidence: res.OverallConfidence, Raw: res}, ""
}
