package model

// Layout is the memory order of the model's input tensor.
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

// DefaultImageSize is the square input resolution of the classifier.
const DefaultImageSize = 224

// Result is the outcome of a single prediction.
type Result struct {
	Disease    string  `json:"disease"`
	Treatment  string  `json:"treatment"`
	Confidence float32 `json:"-"`
	Index      int     `json:"-"`
}

// Options describe how images are fed to the classifier.
type Options struct {
	ModelPath  string
	ImageSize  int
	Layout     Layout
	InputName  string
	OutputName string
}

func (o Options) withDefaults() Options {
	if o.ImageSize <= 0 {
		o.ImageSize = DefaultImageSize
	}
	if o.Layout == "" {
		o.Layout = LayoutNHWC
	}
	if o.InputName == "" {
		o.InputName = "input"
	}
	if o.OutputName == "" {
		o.OutputName = "output"
	}
	return o
}

// InputShape returns the batch-of-one tensor shape for the given layout.
func InputShape(size int, layout Layout) []int64 {
	s := int64(size)
	if layout == LayoutNCHW {
		return []int64{1, 3, s, s}
	}
	return []int64{1, s, s, 3}
}
