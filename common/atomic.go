package common

import "sync/atomic"

type AtomicBool struct {
	val int32
}

func (a *AtomicBool) Get() bool {
	return atomic.LoadInt32(&a.val) == 1
}

func (a *AtomicBool) Set(val bool) {
	atomic.StoreInt32(&a.val, encodeBool(val))
}

func (a *AtomicBool) CompareAndSet(expected bool, val bool) bool {
	return atomic.CompareAndSwapInt32(&a.val, encodeBool(expected), encodeBool(val))
}

func encodeBool(val bool) int32 {
	if val {
		return 1
	}
	return 0
}
