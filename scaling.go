package videoencoder

// DefaultMinPixelsPerFrame is the resolution floor for quality scaling, 320x180.
const DefaultMinPixelsPerFrame = 320 * 180

// QpThresholds are the quantization parameter bounds driving quality scaling.
type QpThresholds struct {
	Low  int
	High int
}

// Valid is false for the unset value where both bounds are <= 0.
func (t QpThresholds) Valid() bool {
	return t.Low > 0 || t.High > 0
}

// ScalingSettings controls resolution adaptation. Quality scaling is enabled
// only if Thresholds is set.
type ScalingSettings struct {
	Thresholds *QpThresholds
	// We will never ask for a resolution lower than this.
	MinPixelsPerFrame int
}

// ScalingSettingsOff disables quality scaling.
var ScalingSettingsOff = ScalingSettings{MinPixelsPerFrame: DefaultMinPixelsPerFrame}

func NewScalingSettings(low, high int) ScalingSettings {
	return NewScalingSettingsWithMinPixels(low, high, DefaultMinPixelsPerFrame)
}

func NewScalingSettingsWithMinPixels(low, high, minPixels int) ScalingSettings {
	s := ScalingSettings{MinPixelsPerFrame: minPixels}
	if t := (QpThresholds{Low: low, High: high}); t.Valid() {
		s.Thresholds = &t
	}
	return s.Normalize()
}

// Enabled reports whether quality driven resolution scaling is on.
func (s ScalingSettings) Enabled() bool {
	return s.Thresholds != nil && s.Thresholds.Valid()
}

// Normalize returns a copy that owns its thresholds and has a positive pixel
// floor.
func (s ScalingSettings) Normalize() ScalingSettings {
	if s.MinPixelsPerFrame <= 0 {
		s.MinPixelsPerFrame = DefaultMinPixelsPerFrame
	}
	if s.Thresholds != nil {
		if !s.Thresholds.Valid() {
			s.Thresholds = nil
		} else {
			t := *s.Thresholds
			s.Thresholds = &t
		}
	}
	return s
}
