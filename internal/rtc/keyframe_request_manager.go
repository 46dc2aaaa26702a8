package rtc

import (
	"sync/atomic"
	"time"

	"github.com/zhangyunhao116/skipmap"
)

// KeyFrameProductionWaitTime is how long a requested key frame may take before
// it is requested once more.
const KeyFrameProductionWaitTime = 1000 * time.Millisecond

type KeyFrameRequestManagerListener interface {
	OnKeyFrameNeeded(keyFrameRequestManager *KeyFrameRequestManager, spatialIndex uint32)
}

// PendingKeyFrameInfo tracks a key frame that was asked for but not produced yet.
type PendingKeyFrameInfo struct {
	spatialIndex   uint32
	timer          *SafeTimer
	timerDuration  time.Duration
	retryOnTimeout atomic.Bool
}

func newPendingKeyFrameInfo(kfrm *KeyFrameRequestManager, spatialIndex uint32, timeout time.Duration) *PendingKeyFrameInfo {
	pkfi := &PendingKeyFrameInfo{
		spatialIndex:  spatialIndex,
		timerDuration: timeout,
	}
	pkfi.retryOnTimeout.Store(true)
	pkfi.timer = NewSafeTimer(timeout, func() {
		kfrm.onKeyFrameRequestTimeout(pkfi)
	})
	return pkfi
}

func (pkfi *PendingKeyFrameInfo) GetSpatialIndex() uint32 {
	return pkfi.spatialIndex
}

func (pkfi *PendingKeyFrameInfo) SetRetryOnTimeout(retry bool) {
	pkfi.retryOnTimeout.Store(retry)
}

func (pkfi *PendingKeyFrameInfo) GetRetryOnTimeout() bool {
	return pkfi.retryOnTimeout.Load()
}

func (pkfi *PendingKeyFrameInfo) Restart() {
	pkfi.timer.Reset(pkfi.timerDuration)
}

func (pkfi *PendingKeyFrameInfo) Stop() {
	pkfi.timer.Stop()
}

// KeyFrameRequestDelayer coalesces requests arriving within the delay.
type KeyFrameRequestDelayer struct {
	spatialIndex      uint32
	timer             *SafeTimer
	keyFrameRequested atomic.Bool
}

func newKeyFrameRequestDelayer(kfrm *KeyFrameRequestManager, spatialIndex uint32, delay time.Duration) *KeyFrameRequestDelayer {
	kfrd := &KeyFrameRequestDelayer{spatialIndex: spatialIndex}
	kfrd.timer = NewSafeTimer(delay, func() {
		kfrm.onKeyFrameDelayTimeout(kfrd)
	})
	return kfrd
}

func (kfrd *KeyFrameRequestDelayer) GetSpatialIndex() uint32 {
	return kfrd.spatialIndex
}

func (kfrd *KeyFrameRequestDelayer) GetKeyFrameRequested() bool {
	return kfrd.keyFrameRequested.Load()
}

func (kfrd *KeyFrameRequestDelayer) SetKeyFrameRequested(flag bool) {
	kfrd.keyFrameRequested.Store(flag)
}

func (kfrd *KeyFrameRequestDelayer) Stop() {
	kfrd.timer.Stop()
}

// KeyFrameRequestManager decides when an encoder layer has to produce a key
// frame. Requests within keyFrameRequestDelay are merged, and a request that
// is not satisfied within the production wait time is repeated once.
type KeyFrameRequestManager struct {
	listener                       KeyFrameRequestManagerListener
	keyFrameRequestDelay           time.Duration
	keyFrameProductionWait         time.Duration
	mapLayerPendingKeyFrameInfo    *skipmap.Uint32Map[*PendingKeyFrameInfo]
	mapLayerKeyFrameRequestDelayer *skipmap.Uint32Map[*KeyFrameRequestDelayer]
}

func WithKeyFrameProductionWait(wait time.Duration) func(*KeyFrameRequestManager) {
	return func(kfrm *KeyFrameRequestManager) {
		kfrm.keyFrameProductionWait = wait
	}
}

func NewKeyFrameRequestManager(listener KeyFrameRequestManagerListener, keyFrameRequestDelay time.Duration, options ...func(*KeyFrameRequestManager)) *KeyFrameRequestManager {
	kfrm := &KeyFrameRequestManager{
		listener:                       listener,
		keyFrameRequestDelay:           keyFrameRequestDelay,
		keyFrameProductionWait:         KeyFrameProductionWaitTime,
		mapLayerPendingKeyFrameInfo:    skipmap.NewUint32[*PendingKeyFrameInfo](),
		mapLayerKeyFrameRequestDelayer: skipmap.NewUint32[*KeyFrameRequestDelayer](),
	}
	for _, option := range options {
		option(kfrm)
	}
	return kfrm
}

func (kfrm *KeyFrameRequestManager) KeyFrameNeeded(spatialIndex uint32) {
	if kfrm.keyFrameRequestDelay > 0 {
		if kfrd, found := kfrm.mapLayerKeyFrameRequestDelayer.Load(spatialIndex); found {
			// Served when the delay expires.
			kfrd.SetKeyFrameRequested(true)
			return
		}
		kfrm.mapLayerKeyFrameRequestDelayer.Store(spatialIndex, newKeyFrameRequestDelayer(kfrm, spatialIndex, kfrm.keyFrameRequestDelay))
	}

	if pkfi, found := kfrm.mapLayerPendingKeyFrameInfo.Load(spatialIndex); found {
		pkfi.SetRetryOnTimeout(true)
		return
	}

	kfrm.mapLayerPendingKeyFrameInfo.Store(spatialIndex, newPendingKeyFrameInfo(kfrm, spatialIndex, kfrm.keyFrameProductionWait))
	kfrm.listener.OnKeyFrameNeeded(kfrm, spatialIndex)
}

// ForceKeyFrameNeeded bypasses the delay, e.g. for an explicit caller request.
func (kfrm *KeyFrameRequestManager) ForceKeyFrameNeeded(spatialIndex uint32) {
	if kfrm.keyFrameRequestDelay > 0 {
		if kfrd, found := kfrm.mapLayerKeyFrameRequestDelayer.LoadAndDelete(spatialIndex); found {
			kfrd.Stop()
		}
		kfrm.mapLayerKeyFrameRequestDelayer.Store(spatialIndex, newKeyFrameRequestDelayer(kfrm, spatialIndex, kfrm.keyFrameRequestDelay))
	}

	if pkfi, found := kfrm.mapLayerPendingKeyFrameInfo.Load(spatialIndex); found {
		pkfi.SetRetryOnTimeout(true)
		pkfi.Restart()
	} else {
		kfrm.mapLayerPendingKeyFrameInfo.Store(spatialIndex, newPendingKeyFrameInfo(kfrm, spatialIndex, kfrm.keyFrameProductionWait))
	}

	kfrm.listener.OnKeyFrameNeeded(kfrm, spatialIndex)
}

// KeyFrameProduced clears the pending request of the layer.
func (kfrm *KeyFrameRequestManager) KeyFrameProduced(spatialIndex uint32) {
	if pkfi, found := kfrm.mapLayerPendingKeyFrameInfo.LoadAndDelete(spatialIndex); found {
		pkfi.Stop()
	}
}

// IsPending reports whether a key frame was requested and not produced yet.
func (kfrm *KeyFrameRequestManager) IsPending(spatialIndex uint32) bool {
	_, found := kfrm.mapLayerPendingKeyFrameInfo.Load(spatialIndex)
	return found
}

func (kfrm *KeyFrameRequestManager) onKeyFrameRequestTimeout(pkfi *PendingKeyFrameInfo) {
	current, found := kfrm.mapLayerPendingKeyFrameInfo.Load(pkfi.GetSpatialIndex())
	if !found || current != pkfi {
		return
	}

	if !pkfi.GetRetryOnTimeout() {
		pkfi.Stop()
		kfrm.mapLayerPendingKeyFrameInfo.Delete(pkfi.GetSpatialIndex())
		return
	}

	// Ask once more, then give up on the next timeout.
	pkfi.SetRetryOnTimeout(false)
	pkfi.Restart()
	kfrm.listener.OnKeyFrameNeeded(kfrm, pkfi.GetSpatialIndex())
}

func (kfrm *KeyFrameRequestManager) onKeyFrameDelayTimeout(kfrd *KeyFrameRequestDelayer) {
	current, found := kfrm.mapLayerKeyFrameRequestDelayer.Load(kfrd.GetSpatialIndex())
	if !found || current != kfrd {
		return
	}
	kfrm.mapLayerKeyFrameRequestDelayer.Delete(kfrd.GetSpatialIndex())
	kfrd.Stop()

	if kfrd.GetKeyFrameRequested() {
		kfrm.KeyFrameNeeded(kfrd.GetSpatialIndex())
	}
}

func (kfrm *KeyFrameRequestManager) Stop() {
	kfrm.mapLayerPendingKeyFrameInfo.Range(func(key uint32, value *PendingKeyFrameInfo) bool {
		value.Stop()
		kfrm.mapLayerPendingKeyFrameInfo.Delete(key)
		return true
	})
	kfrm.mapLayerKeyFrameRequestDelayer.Range(func(key uint32, value *KeyFrameRequestDelayer) bool {
		value.Stop()
		kfrm.mapLayerKeyFrameRequestDelayer.Delete(key)
		return true
	})
}
