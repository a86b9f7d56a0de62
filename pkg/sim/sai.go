package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/sai"
)

// SAI is a simulated audio-frame bus. One tick is one frame: every busy
// direction moves up to one item per slot. The frame engine only runs while
// a direction is busy. When one direction runs and the other is enabled but
// idle, the idle one underflows or overflows; the flag is latched and
// signaled once until the next operation of that direction starts.
type SAI struct {
	lc       hal.Lifecycle[sai.SignalEvent]
	tx       hal.Channel
	rx       hal.Channel
	clock    Clock
	loopback bool

	mu          sync.Mutex
	cfg         sai.Config
	txOp        hal.Op
	rxOp        hal.Op
	txBuf       []byte
	rxBuf       []byte
	txUnderflow bool
	rxOverflow  bool
	frameError  bool
	stop        chan struct{}
	wake        chan struct{}

	injectUnderflow  atomic.Bool
	injectOverflow   atomic.Bool
	injectFrameError atomic.Bool
}

// NewSAI returns an interface using DefaultConfig. With loopback the
// receiver captures the transmitted slots of the same frame, otherwise it
// captures silence.
func NewSAI(clock Clock, loopback bool) *SAI {
	return &SAI{
		clock:    clock,
		loopback: loopback,
		cfg:      sai.DefaultConfig(),
		wake:     make(chan struct{}, 1),
	}
}

func (obj *SAI) Initialize(cb sai.SignalEvent) error {
	if err := obj.lc.Initialize(cb); err != nil {
		return err
	}
	stop := make(chan struct{})
	obj.mu.Lock()
	obj.stop = stop
	obj.mu.Unlock()
	go obj.engine(stop)
	return nil
}

func (obj *SAI) Uninitialize() error {
	obj.tx.Abort()
	obj.rx.Abort()
	obj.mu.Lock()
	if obj.stop != nil {
		close(obj.stop)
		obj.stop = nil
	}
	obj.txBuf, obj.rxBuf = nil, nil
	obj.mu.Unlock()
	obj.lc.Uninitialize()
	return nil
}

func (obj *SAI) Configure(cfg sai.Config) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if obj.tx.Busy() || obj.rx.Busy() {
		return hal.ErrBusy
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.cfg = cfg
	hal.LogDebug(hal.ComponentSAI, "configured", "protocol", cfg.Protocol, "bits", cfg.DataSize, "slots", cfg.SlotCount())
	return nil
}

func (obj *SAI) Send(data []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.mu.Lock()
	cfg := obj.cfg
	obj.mu.Unlock()
	if !cfg.Transmitter {
		return fmt.Errorf("%w: transmitter disabled", hal.ErrGeneric)
	}
	if _, err := hal.Items(len(data), cfg.ItemSize()); err != nil {
		return err
	}
	op, err := obj.tx.Begin()
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.txOp = op
	obj.txBuf = data
	obj.txUnderflow = false
	obj.frameError = false
	obj.mu.Unlock()
	obj.kick()
	return nil
}

func (obj *SAI) Receive(data []byte) error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.mu.Lock()
	cfg := obj.cfg
	obj.mu.Unlock()
	if !cfg.Receiver {
		return fmt.Errorf("%w: receiver disabled", hal.ErrGeneric)
	}
	if _, err := hal.Items(len(data), cfg.ItemSize()); err != nil {
		return err
	}
	op, err := obj.rx.Begin()
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.rxOp = op
	obj.rxBuf = data
	obj.rxOverflow = false
	obj.frameError = false
	obj.mu.Unlock()
	obj.kick()
	return nil
}

func (obj *SAI) kick() {
	select {
	case obj.wake <- struct{}{}:
	default:
	}
}

func (obj *SAI) AbortSend() error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.tx.Abort()
	return nil
}

func (obj *SAI) AbortReceive() error {
	if err := obj.lc.Ready(); err != nil {
		return err
	}
	obj.rx.Abort()
	return nil
}

func (obj *SAI) GetTxCount() uint32 {
	return obj.tx.Count()
}

func (obj *SAI) GetRxCount() uint32 {
	return obj.rx.Count()
}

func (obj *SAI) State() hal.State {
	return obj.lc.State(&obj.tx, &obj.rx)
}

func (obj *SAI) GetStatus() sai.Status {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return sai.Status{
		TxBusy:      obj.tx.Busy(),
		RxBusy:      obj.rx.Busy(),
		TxUnderflow: obj.txUnderflow,
		RxOverflow:  obj.rxOverflow,
		FrameError:  obj.frameError,
	}
}

// InjectUnderflow starves the transmitter for the next frame.
func (obj *SAI) InjectUnderflow() {
	obj.injectUnderflow.Store(true)
}

// InjectOverflow drops the next received frame.
func (obj *SAI) InjectOverflow() {
	obj.injectOverflow.Store(true)
}

// InjectFrameError misplaces the next frame sync; only a slave notices.
func (obj *SAI) InjectFrameError() {
	obj.injectFrameError.Store(true)
}

func (obj *SAI) engine(stop <-chan struct{}) {
	for {
		if !obj.tx.Busy() && !obj.rx.Busy() {
			select {
			case <-obj.wake:
			case <-stop:
				return
			}
			continue
		}
		if !obj.clock.Tick(stop) {
			return
		}
		obj.frame()
	}
}

func (obj *SAI) frame() {
	obj.mu.Lock()
	cfg := obj.cfg
	slots := int(cfg.SlotCount())
	size := cfg.ItemSize()
	txOp, rxOp := obj.txOp, obj.rxOp
	txBusy := obj.tx.Current(txOp)
	rxBusy := obj.rx.Current(rxOp)

	var ev sai.Event
	var sent []byte
	txDone, rxDone := false, false

	switch {
	case txBusy && obj.injectUnderflow.CompareAndSwap(true, false):
		obj.txUnderflow = true
		ev |= sai.EventTxUnderflow
	case txBusy:
		off := int(obj.tx.Count()) * size
		n := min(slots*size, len(obj.txBuf)-off)
		sent = obj.txBuf[off : off+n]
		obj.tx.Add(txOp, uint32(n/size))
		txDone = off+n == len(obj.txBuf)
	case cfg.Transmitter && rxBusy && !obj.txUnderflow:
		obj.txUnderflow = true
		ev |= sai.EventTxUnderflow
	}

	switch {
	case rxBusy && obj.injectOverflow.CompareAndSwap(true, false):
		obj.rxOverflow = true
		ev |= sai.EventRxOverflow
	case rxBusy:
		off := int(obj.rx.Count()) * size
		n := min(slots*size, len(obj.rxBuf)-off)
		dst := obj.rxBuf[off : off+n]
		clear(dst)
		if obj.loopback {
			copy(dst, sent)
		}
		obj.rx.Add(rxOp, uint32(n/size))
		rxDone = off+n == len(obj.rxBuf)
	case cfg.Receiver && txBusy && !obj.rxOverflow:
		obj.rxOverflow = true
		ev |= sai.EventRxOverflow
	}

	if cfg.Mode == sai.Slave && obj.injectFrameError.CompareAndSwap(true, false) {
		obj.frameError = true
		ev |= sai.EventFrameError
	}
	obj.mu.Unlock()

	if txDone && obj.tx.End(txOp) {
		ev |= sai.EventSendComplete
	}
	if rxDone && obj.rx.End(rxOp) {
		ev |= sai.EventReceiveComplete
	}
	if ev == 0 {
		return
	}
	hal.LogDebug(hal.ComponentSAI, "frame", "event", ev, "tx", obj.tx.Count(), "rx", obj.rx.Count())
	obj.lc.Dispatch(func(cb sai.SignalEvent) {
		cb(ev)
	})
}
