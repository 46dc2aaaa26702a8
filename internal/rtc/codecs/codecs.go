package codecs

// temporalPatterns are the dyadic temporal layer cycles, indexed by the number
// of temporal layers minus one.
var temporalPatterns = [][]int16{
	{0},
	{0, 1},
	{0, 2, 1, 2},
	{0, 3, 2, 3, 1, 3, 2, 3},
}

type EncodingContextParams struct {
	SpatialLayers  uint8
	TemporalLayers uint8
}

// EncodingContext holds the layer selection of one encoder instance: the
// highest layers allowed by the current rates (target) and the layers of the
// frame being produced (current).
type EncodingContext struct {
	params               EncodingContextParams
	targetSpatialLayer   int16
	targetTemporalLayer  int16
	currentSpatialLayer  int16
	currentTemporalLayer int16
	patternIndex         int
	seenTemporalLayers   uint8
}

func NewEncodingContext(params EncodingContextParams) *EncodingContext {
	if params.SpatialLayers == 0 {
		params.SpatialLayers = 1
	}
	if params.TemporalLayers == 0 {
		params.TemporalLayers = 1
	}
	if int(params.TemporalLayers) > len(temporalPatterns) {
		params.TemporalLayers = uint8(len(temporalPatterns))
	}
	return &EncodingContext{
		params:               params,
		targetSpatialLayer:   -1,
		targetTemporalLayer:  -1,
		currentSpatialLayer:  -1,
		currentTemporalLayer: -1,
	}
}

func (ec *EncodingContext) GetSpatialLayers() uint8 {
	return ec.params.SpatialLayers
}

func (ec *EncodingContext) GetTemporalLayers() uint8 {
	return ec.params.TemporalLayers
}

func (ec *EncodingContext) GetTargetSpatialLayer() int16 {
	return ec.targetSpatialLayer
}

func (ec *EncodingContext) GetTargetTemporalLayer() int16 {
	return ec.targetTemporalLayer
}

func (ec *EncodingContext) GetCurrentSpatialLayer() int16 {
	return ec.currentSpatialLayer
}

func (ec *EncodingContext) GetCurrentTemporalLayer() int16 {
	return ec.currentTemporalLayer
}

func (ec *EncodingContext) SetTargetSpatialLayer(spatialLayer int16) {
	ec.targetSpatialLayer = spatialLayer
}

func (ec *EncodingContext) SetTargetTemporalLayer(temporalLayer int16) {
	ec.targetTemporalLayer = temporalLayer
}

func (ec *EncodingContext) SetCurrentSpatialLayer(spatialLayer int16) {
	ec.currentSpatialLayer = spatialLayer
}

// NextTemporalLayer returns the temporal layer of the next frame in the
// pattern and whether it is the first frame of that layer since the last
// key frame (a layer switching point).
func (ec *EncodingContext) NextTemporalLayer() (temporalLayer int16, layerSync bool) {
	pattern := temporalPatterns[ec.params.TemporalLayers-1]
	temporalLayer = pattern[ec.patternIndex%len(pattern)]
	ec.patternIndex++

	bit := uint8(1) << uint8(temporalLayer)
	layerSync = temporalLayer > 0 && ec.seenTemporalLayers&bit == 0
	ec.seenTemporalLayers |= bit
	ec.currentTemporalLayer = temporalLayer
	return temporalLayer, layerSync
}

// KeyFrame restarts the temporal pattern.
func (ec *EncodingContext) KeyFrame() {
	ec.patternIndex = 0
	ec.seenTemporalLayers = 0
}

// IsTemporalLayerSelected reports whether frames of temporalLayer fit in the
// target. A negative target means no temporal layer is allowed.
func (ec *EncodingContext) IsTemporalLayerSelected(temporalLayer int16) bool {
	return temporalLayer <= ec.targetTemporalLayer
}
