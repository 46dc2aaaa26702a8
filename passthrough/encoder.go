// Package passthrough is a reference VideoEncoder. It does no compression:
// every spatial layer of a frame becomes a payload sized to the layer's share
// of the current bitrate, so rate control, layering, key frame handling and
// drop reporting behave like a real encoder and can be observed in tests.
//
// Encoding is synchronous by default: the callback runs inside Encode on the
// caller's goroutine. With Options.Async frames are queued and the callback
// runs on a single worker goroutine, in submission order.
package passthrough

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/go-logr/logr"
	"github.com/jiyeyuran/videoencoder"
	"github.com/jiyeyuran/videoencoder/internal/rtc"
	"github.com/jiyeyuran/videoencoder/internal/rtc/codecs"
	"github.com/jiyeyuran/videoencoder/internal/util"
	"github.com/zhangyunhao116/skipset"
)

const defaultQpMax = 56

type encodeJob struct {
	frame        *videoencoder.VideoFrame
	keyRequested [videoencoder.MaxSpatialLayers]bool
	rates        videoencoder.RateControlParameters
	config       videoencoder.EncoderConfig
	callback     videoencoder.EncodedImageCallback
}

// layerState is owned by the goroutine that encodes.
type layerState struct {
	context        *codecs.EncodingContext
	counter        *rtc.EncodedDataCounter
	needsKeyFrame  bool
	framesSinceKey int
}

// Stats are counters since the last InitEncode.
type Stats struct {
	FramesEncoded               uint64
	KeyFrames                   uint64
	DroppedByMediaOptimizations uint64
	DroppedByEncoder            uint64
	// LayerBitrates is the measured output bitrate per configured spatial
	// layer in bps.
	LayerBitrates  []uint32
	PacketLossRate float32
	RttMs          int64
}

type Encoder struct {
	options   Options
	logger    logr.Logger
	lifecycle videoencoder.Lifecycle

	// mu guards rates and feedback, never held while encoding.
	mu             sync.Mutex
	rates          videoencoder.RateControlParameters
	lossRate       float32
	lossTrend      *rtc.TrendCalculator
	rttTrend       *rtc.TrendCalculator
	keyFrames      *rtc.KeyFrameRequestManager
	numLayers      int
	keyFrameNeeded [videoencoder.MaxSpatialLayers]atomic.Bool
	activeLayers   *skipset.FuncSet[int]

	layers      []*layerState
	frameClock  uint64
	lastFrameMs uint64

	framesEncoded    atomic.Uint64
	keyFramesEncoded atomic.Uint64
	droppedMediaOpt  atomic.Uint64
	droppedByEncoder atomic.Uint64
	layerBitrates    [videoencoder.MaxSpatialLayers]atomic.Uint32

	queueMu    sync.Mutex
	queueCond  *sync.Cond
	queue      deque.Deque[*encodeJob]
	closing    bool
	workerDone chan struct{}
	pending    sync.WaitGroup
}

func New(options ...func(*Options)) *Encoder {
	opts := defaultOptions()
	for _, option := range options {
		option(&opts)
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.KeyFrameSizeFactor < 1 {
		opts.KeyFrameSizeFactor = 1
	}
	if opts.RateWindowMs == 0 {
		opts.RateWindowMs = DefaultRateWindowMs
	}
	opts.ScalingSettings = opts.ScalingSettings.Normalize()

	e := &Encoder{
		options:      opts,
		logger:       opts.Logger.WithName("passthrough").WithValues("impl", opts.ImplementationName),
		lossTrend:    rtc.NewTrendCalculator(),
		rttTrend:     rtc.NewTrendCalculator(),
		activeLayers: skipset.NewFunc(func(a, b int) bool { return a < b }),
	}
	e.queueCond = sync.NewCond(&e.queueMu)
	return e
}

func (e *Encoder) InitEncode(settings *videoencoder.CodecSettings, numberOfCores int, maxPayloadSize int) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if numberOfCores < 1 || maxPayloadSize < 1 {
		return fmt.Errorf("%w: %d cores, max payload %d", videoencoder.ErrInvalidParameter, numberOfCores, maxPayloadSize)
	}
	if numberOfCores < e.options.MinCores {
		return fmt.Errorf("%w: %d cores, need %d", videoencoder.ErrInsufficientResources, numberOfCores, e.options.MinCores)
	}
	if limit := e.options.MaxBufferedBytes; limit > 0 {
		buffered := settings.Width * settings.Height * 3 / 2
		if e.options.Async {
			buffered *= e.options.QueueSize
		}
		if buffered > limit {
			return fmt.Errorf("%w: %d buffered bytes exceed %d", videoencoder.ErrInsufficientResources, buffered, limit)
		}
	}

	// Reconfiguring a running encoder finishes queued work first.
	e.stopWorker()
	e.stopKeyFrames()

	config, err := e.lifecycle.Configure(settings, numberOfCores, maxPayloadSize)
	if err != nil {
		return err
	}

	n := config.Settings.NumSpatialLayers()
	e.layers = make([]*layerState, n)
	for sid := range e.layers {
		layer := config.Settings.Layer(sid)
		e.layers[sid] = &layerState{
			context: codecs.NewEncodingContext(codecs.EncodingContextParams{
				SpatialLayers:  uint8(n),
				TemporalLayers: uint8(layer.NumTemporalLayers),
			}),
			counter:       rtc.NewEncodedDataCounter(e.options.RateWindowMs),
			needsKeyFrame: true,
		}
	}
	e.frameClock = 0
	e.lastFrameMs = 0
	e.framesEncoded.Store(0)
	e.keyFramesEncoded.Store(0)
	e.droppedMediaOpt.Store(0)
	e.droppedByEncoder.Store(0)
	for i := range e.layerBitrates {
		e.layerBitrates[i].Store(0)
		e.keyFrameNeeded[i].Store(false)
	}

	e.mu.Lock()
	e.rates = startRates(config.Settings)
	e.numLayers = n
	e.keyFrames = rtc.NewKeyFrameRequestManager(e, e.options.KeyFrameRequestDelay)
	e.updateActiveLayers(e.rates.Bitrate)
	e.mu.Unlock()

	if e.options.Async {
		e.startWorker()
	}

	e.logger.Info("encoder initialized",
		"codec", config.Settings.CodecType,
		"width", config.Settings.Width,
		"height", config.Settings.Height,
		"spatialLayers", n,
		"cores", numberOfCores,
		"async", e.options.Async)
	return nil
}

// startRates is the target used until the first SetRates: each layer runs at
// its configured target bitrate.
func startRates(settings *videoencoder.CodecSettings) videoencoder.RateControlParameters {
	var alloc videoencoder.BitrateAllocation
	for sid := 0; sid < settings.NumSpatialLayers(); sid++ {
		layer := settings.Layer(sid)
		if !layer.Active {
			continue
		}
		kbps := layer.TargetBitrateKbps
		if kbps == 0 {
			kbps = layer.MaxBitrateKbps
		}
		alloc.SetBitrate(sid, 0, int64(kbps)*1000)
	}
	return videoencoder.RateControlParameters{Bitrate: alloc}.Normalize()
}

func (e *Encoder) RegisterEncodeCompleteCallback(callback videoencoder.EncodedImageCallback) error {
	return e.lifecycle.RegisterCallback(callback)
}

func (e *Encoder) Release() error {
	if !e.lifecycle.Release() {
		return nil
	}
	e.stopWorker()
	e.stopKeyFrames()
	e.logger.V(1).Info("encoder released",
		"framesEncoded", e.framesEncoded.Load(),
		"droppedByEncoder", e.droppedByEncoder.Load(),
		"droppedByMediaOptimizations", e.droppedMediaOpt.Load())
	return nil
}

func (e *Encoder) stopKeyFrames() {
	e.mu.Lock()
	kfrm := e.keyFrames
	e.keyFrames = nil
	e.mu.Unlock()
	if kfrm != nil {
		kfrm.Stop()
	}
}

func (e *Encoder) Encode(frame *videoencoder.VideoFrame, frameTypes []videoencoder.VideoFrameType) error {
	config, callback, err := e.lifecycle.BeginEncode()
	if err != nil {
		return err
	}
	if err := frame.Validate(config.Settings, e.options.SupportsNativeHandle); err != nil {
		return err
	}

	job := &encodeJob{
		frame:    frame,
		config:   config,
		callback: callback,
	}

	e.mu.Lock()
	job.rates = e.rates
	kfrm := e.keyFrames
	e.mu.Unlock()

	for sid := 0; sid < config.Settings.NumSpatialLayers(); sid++ {
		if videoencoder.IsKeyFrameRequested(frameTypes, sid) {
			job.keyRequested[sid] = true
			if kfrm != nil {
				kfrm.ForceKeyFrameNeeded(uint32(sid))
			}
		}
	}

	if !e.options.Async {
		e.encodeFrame(job)
		return nil
	}

	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	if e.closing || e.workerDone == nil {
		return fmt.Errorf("%w: encoder is shutting down", videoencoder.ErrInvalidState)
	}
	if e.queue.Len() >= e.options.QueueSize {
		return fmt.Errorf("%w: %d frames queued", videoencoder.ErrResourceExhausted, e.queue.Len())
	}
	e.pending.Add(1)
	e.queue.PushBack(job)
	e.queueCond.Signal()
	return nil
}

// Flush blocks until every queued frame has been delivered or dropped. It is
// a no-op for a synchronous encoder.
func (e *Encoder) Flush() {
	e.pending.Wait()
}

func (e *Encoder) startWorker() {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	e.closing = false
	done := make(chan struct{})
	e.workerDone = done
	go e.runWorker(done)
}

func (e *Encoder) runWorker(done chan struct{}) {
	defer close(done)

	for {
		e.queueMu.Lock()
		for e.queue.Len() == 0 && !e.closing {
			e.queueCond.Wait()
		}
		if e.closing {
			e.queueMu.Unlock()
			return
		}
		job := e.queue.PopFront()
		e.queueMu.Unlock()

		e.encodeFrame(job)
		e.pending.Done()
	}
}

// stopWorker ends the worker and reports the frames it did not get to as
// dropped by the encoder.
func (e *Encoder) stopWorker() {
	e.queueMu.Lock()
	done := e.workerDone
	if done == nil {
		e.queueMu.Unlock()
		return
	}
	e.closing = true
	e.workerDone = nil
	var abandoned []*encodeJob
	for e.queue.Len() > 0 {
		abandoned = append(abandoned, e.queue.PopFront())
	}
	e.queueCond.Broadcast()
	e.queueMu.Unlock()

	<-done

	if len(abandoned) > 0 {
		e.logger.Info("dropping queued frames", "count", len(abandoned))
	}
	for _, job := range abandoned {
		for sid := 0; sid < job.config.Settings.NumSpatialLayers(); sid++ {
			e.drop(job.callback, videoencoder.DroppedByEncoder)
		}
		e.pending.Done()
	}
}

type layerOutcome struct {
	image *videoencoder.EncodedImage
	info  *videoencoder.CodecSpecificInfo
	drop  videoencoder.DropReason
}

func (e *Encoder) encodeFrame(job *encodeJob) {
	settings := job.config.Settings
	fps := job.rates.EffectiveFramerate(settings.MaxFramerate)
	nowMs := e.frameTime(job.frame, fps)

	outcomes := make([]layerOutcome, settings.NumSpatialLayers())
	lastEncoded := -1
	for sid := range outcomes {
		outcomes[sid] = e.encodeLayer(job, sid, fps, nowMs)
		if outcomes[sid].image != nil {
			lastEncoded = sid
		}
	}

	for sid, outcome := range outcomes {
		if outcome.image == nil {
			e.drop(job.callback, outcome.drop)
			continue
		}
		outcome.info.EndOfPicture = sid == lastEncoded
		result := job.callback.OnEncodedImage(outcome.image, outcome.info)
		if !result.OK() {
			e.logger.V(1).Info("sink failed to send frame", "timestamp", outcome.image.TimestampRTP, "spatialIndex", sid)
		}
	}
}

// frameTime is the encoder clock in ms. Capture time drives it when present,
// otherwise every frame advances it by one frame interval.
func (e *Encoder) frameTime(frame *videoencoder.VideoFrame, fps float64) uint64 {
	if frame.TimestampUs > 0 {
		nowMs := uint64(frame.TimestampUs / 1000)
		if nowMs < e.lastFrameMs {
			nowMs = e.lastFrameMs
		}
		e.lastFrameMs = nowMs
		return nowMs
	}
	nowMs := e.frameClock
	e.frameClock += uint64(math.Round(1000 / fps))
	if nowMs < e.lastFrameMs {
		nowMs = e.lastFrameMs
	}
	e.lastFrameMs = nowMs
	return nowMs
}

func (e *Encoder) encodeLayer(job *encodeJob, sid int, fps float64, nowMs uint64) layerOutcome {
	settings := job.config.Settings
	layer := settings.Layer(sid)
	state := e.layers[sid]

	layerBps := job.rates.Bitrate.SpatialLayerSum(sid)
	if !layer.Active || layerBps == 0 {
		// The layer restarts with a key frame once it is enabled again.
		state.needsKeyFrame = true
		return layerOutcome{drop: videoencoder.DroppedByMediaOptimizations}
	}

	keyFrame := state.needsKeyFrame ||
		job.keyRequested[sid] ||
		e.keyFrameNeeded[sid].Load() ||
		(settings.KeyFrameInterval > 0 && state.framesSinceKey >= settings.KeyFrameInterval)

	state.context.SetTargetTemporalLayer(targetTemporalLayer(job.rates.Bitrate, sid, layer.NumTemporalLayers))
	if keyFrame {
		state.context.KeyFrame()
	}
	temporalLayer, layerSync := state.context.NextTemporalLayer()
	if !keyFrame && !state.context.IsTemporalLayerSelected(temporalLayer) {
		return layerOutcome{drop: videoencoder.DroppedByMediaOptimizations}
	}

	if !keyFrame && e.options.OvershootFactor > 0 {
		if measured := state.counter.GetBitrate(nowMs); float64(measured) > e.options.OvershootFactor*float64(layerBps) {
			return layerOutcome{drop: videoencoder.DroppedByEncoder}
		}
	}

	bytes := float64(layerBps) / 8 / fps
	if keyFrame {
		bytes *= float64(e.options.KeyFrameSizeFactor)
	}
	budget := int(util.Clamp(bytes, 1, float64(maxFrameBytes(layer))))

	frameType := videoencoder.VideoFrameDelta
	if keyFrame {
		frameType = videoencoder.VideoFrameKey
		state.needsKeyFrame = false
		state.framesSinceKey = 0
		e.keyFrameNeeded[sid].Store(false)
		e.mu.Lock()
		if e.keyFrames != nil {
			e.keyFrames.KeyFrameProduced(uint32(sid))
		}
		e.mu.Unlock()
		e.keyFramesEncoded.Add(1)
	}
	state.framesSinceKey++

	state.counter.Update(budget, nowMs)
	e.layerBitrates[sid].Store(state.counter.GetBitrate(nowMs))
	e.framesEncoded.Add(1)

	return layerOutcome{
		image: &videoencoder.EncodedImage{
			Data:          payload(settings.CodecType, job.frame, budget, keyFrame),
			TimestampRTP:  job.frame.TimestampRTP,
			CaptureTimeUs: job.frame.TimestampUs,
			Width:         layer.Width,
			Height:        layer.Height,
			FrameType:     frameType,
			SpatialIndex:  sid,
			TemporalIndex: int(temporalLayer),
			Qp:            quantizer(settings.QpMax, budget, layer),
		},
		info: &videoencoder.CodecSpecificInfo{
			CodecType: settings.CodecType,
			LayerSync: layerSync,
		},
	}
}

// targetTemporalLayer is the highest temporal layer with a positive bitrate.
// A spatial layer whose temporal split is not given within its configured
// temporal layers runs all of them.
func targetTemporalLayer(alloc videoencoder.BitrateAllocation, sid int, numTemporalLayers int) int16 {
	numTemporalLayers = util.Clamp(numTemporalLayers, 1, videoencoder.MaxTemporalStreams)
	split := false
	for tid := 1; tid < numTemporalLayers; tid++ {
		if alloc.HasBitrate(sid, tid) {
			split = true
			break
		}
	}
	if !split {
		return int16(numTemporalLayers - 1)
	}
	target := int16(-1)
	for tid := 0; tid < numTemporalLayers; tid++ {
		if alloc.GetBitrate(sid, tid) > 0 {
			target = int16(tid)
		}
	}
	// Bitrate given only above the configured layers keeps the base layer.
	return max(target, 0)
}

// maxFrameBytes caps a payload at four raw pictures.
func maxFrameBytes(layer videoencoder.SpatialLayer) int {
	return max(layer.Width*layer.Height*3/2, 1) * 4
}

// quantizer maps how much of the raw picture fits in the budget to a QP.
func quantizer(qpMax int, budget int, layer videoencoder.SpatialLayer) int {
	if qpMax <= 0 {
		qpMax = defaultQpMax
	}
	raw := util.MaxOf[int]()
	if pixels := layer.Width * layer.Height; pixels > 0 {
		raw = pixels * 3 / 2
	}
	ratio := util.Clamp(float64(budget)/float64(raw), 0, 1)
	return util.Clamp(int(float64(qpMax)*(1-math.Sqrt(ratio))), 1, qpMax)
}

func (e *Encoder) drop(callback videoencoder.EncodedImageCallback, reason videoencoder.DropReason) {
	switch reason {
	case videoencoder.DroppedByEncoder:
		e.droppedByEncoder.Add(1)
	default:
		e.droppedMediaOpt.Add(1)
	}
	videoencoder.NotifyDropped(callback, reason)
}

func (e *Encoder) SetRates(params videoencoder.RateControlParameters) error {
	params = params.Normalize()
	if err := params.Validate(); err != nil {
		return err
	}
	if _, ok := e.lifecycle.Config(); !ok {
		return fmt.Errorf("%w: rates set before InitEncode", videoencoder.ErrInvalidState)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rates = params
	e.updateActiveLayers(params.Bitrate)
	e.logger.V(1).Info("rates updated", "bitrate", params.Bitrate.SumBps(), "fps", params.FramerateFps)
	return nil
}

func (e *Encoder) updateActiveLayers(alloc videoencoder.BitrateAllocation) {
	for sid := 0; sid < videoencoder.MaxSpatialLayers; sid++ {
		if sid < e.numLayers && alloc.IsSpatialLayerUsed(sid) {
			e.activeLayers.Add(sid)
		} else {
			e.activeLayers.Remove(sid)
		}
	}
}

// ActiveSpatialLayers lists the spatial layers the current rates allow.
func (e *Encoder) ActiveSpatialLayers() []int {
	var layers []int
	e.activeLayers.Range(func(sid int) bool {
		layers = append(layers, sid)
		return true
	})
	return layers
}

func (e *Encoder) OnPacketLossRateUpdate(packetLossRate float32) {
	if math.IsNaN(float64(packetLossRate)) {
		return
	}
	packetLossRate = util.Clamp(packetLossRate, 0, 1)
	nowMs := uint64(time.Now().UnixMilli())

	e.mu.Lock()
	previous := e.lossRate
	e.lossRate = packetLossRate
	e.lossTrend.Update(uint32(packetLossRate*1000), nowMs)
	kfrm := e.keyFrames
	numLayers := e.numLayers
	e.mu.Unlock()

	threshold := e.options.KeyFrameLossThreshold
	if kfrm == nil || threshold <= 0 || previous >= threshold || packetLossRate < threshold {
		return
	}
	e.logger.V(1).Info("packet loss above threshold, requesting key frames", "loss", packetLossRate)
	for _, sid := range e.ActiveSpatialLayers() {
		if sid < numLayers {
			kfrm.KeyFrameNeeded(uint32(sid))
		}
	}
}

func (e *Encoder) OnRttUpdate(rttMs int64) {
	rttMs = max(rttMs, 0)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rttTrend.Update(util.SaturatingCast[uint32](rttMs), uint64(time.Now().UnixMilli()))
}

// OnKeyFrameNeeded flags the layer so its next frame is a key frame.
func (e *Encoder) OnKeyFrameNeeded(kfrm *rtc.KeyFrameRequestManager, spatialIndex uint32) {
	if spatialIndex < videoencoder.MaxSpatialLayers {
		e.keyFrameNeeded[spatialIndex].Store(true)
	}
}

func (e *Encoder) GetEncoderInfo() videoencoder.EncoderInfo {
	info := videoencoder.DefaultEncoderInfo()
	info.ImplementationName = e.options.ImplementationName
	info.IsHardwareAccelerated = e.options.Hardware
	info.SupportsNativeHandle = e.options.SupportsNativeHandle
	info.HasTrustedRateController = e.options.TrustedRateController
	info.ScalingSettings = e.options.ScalingSettings.Normalize()

	config, ok := e.lifecycle.Config()
	if !ok {
		return info
	}
	var alloc videoencoder.FpsAllocation
	for sid := 0; sid < config.Settings.NumSpatialLayers(); sid++ {
		alloc[sid] = videoencoder.TemporalFpsAllocation(config.Settings.Layer(sid).NumTemporalLayers)
	}
	info.FpsAllocation = alloc
	return info
}

func (e *Encoder) Stats() Stats {
	e.mu.Lock()
	stats := Stats{
		PacketLossRate: float32(e.lossTrend.GetValue()) / 1000,
		RttMs:          int64(e.rttTrend.GetValue()),
	}
	numLayers := e.numLayers
	e.mu.Unlock()

	stats.FramesEncoded = e.framesEncoded.Load()
	stats.KeyFrames = e.keyFramesEncoded.Load()
	stats.DroppedByMediaOptimizations = e.droppedMediaOpt.Load()
	stats.DroppedByEncoder = e.droppedByEncoder.Load()
	stats.LayerBitrates = make([]uint32, numLayers)
	for sid := range stats.LayerBitrates {
		stats.LayerBitrates[sid] = e.layerBitrates[sid].Load()
	}
	return stats
}
