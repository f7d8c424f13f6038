package pipeline

import (
	"errors"

	"github.com/e7canasta/pagestream/internal/colors"
	"github.com/e7canasta/pagestream/internal/raster"
	"github.com/e7canasta/pagestream/internal/render"
)

// ErrorCategory classifies per-frame failures for logs and metrics.
type ErrorCategory int

const (
	// ErrCategoryCapture indicates the render engine failed to produce a raster
	ErrCategoryCapture ErrorCategory = iota
	// ErrCategoryDecode indicates the captured bytes were not a usable image
	ErrCategoryDecode
	// ErrCategoryCrop indicates the changed region fell outside the frame
	ErrCategoryCrop
	// ErrCategoryQuantize indicates quantization or packing failed
	ErrCategoryQuantize
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// Categories lists every category, in declaration order.
var Categories = [...]ErrorCategory{
	ErrCategoryCapture,
	ErrCategoryDecode,
	ErrCategoryCrop,
	ErrCategoryQuantize,
	ErrCategoryUnknown,
}

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryCapture:
		return "capture"
	case ErrCategoryDecode:
		return "decode"
	case ErrCategoryCrop:
		return "crop"
	case ErrCategoryQuantize:
		return "quantize"
	default:
		return "unknown"
	}
}

// Classify maps a per-frame error to its category using the sentinel
// errors of the packages involved.
func Classify(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrCategoryUnknown
	case errors.Is(err, render.ErrCapture):
		return ErrCategoryCapture
	case errors.Is(err, raster.ErrDecode):
		return ErrCategoryDecode
	case errors.Is(err, raster.ErrCrop):
		return ErrCategoryCrop
	case errors.Is(err, colors.ErrPack):
		return ErrCategoryQuantize
	default:
		return ErrCategoryUnknown
	}
}
